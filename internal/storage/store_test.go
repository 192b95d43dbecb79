package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"bongobot/internal/birthday"
	logx "bongobot/pkg/logx"
)

func sampleRegistries() map[string]*birthday.Registry {
	return map[string]*birthday.Registry{
		"1001": {
			ChannelID:   "c-55",
			AnnouncedOn: "2025-12-10",
			Entries: []birthday.Record{
				{Name: "Ada Lovelace", Month: 12, Day: 10, AddedBy: "u1", MD: "12-10"},
				{Name: "Leap", Month: 2, Day: 29, AddedBy: "u2", MD: "02-29"},
			},
		},
		"2002": {Entries: []birthday.Record{}},
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	in := sampleRegistries()
	b, err := MarshalDocument(in)
	if err != nil {
		t.Fatalf("MarshalDocument error: %v", err)
	}
	out, err := UnmarshalDocument(b)
	if err != nil {
		t.Fatalf("UnmarshalDocument error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestDocumentShape(t *testing.T) {
	t.Parallel()
	b, err := MarshalDocument(sampleRegistries())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("document is not the expected shape: %v", err)
	}
	g := raw["guilds"]["2002"]
	if v, ok := g["channelId"]; !ok || v != nil {
		t.Fatalf("channelId = %v (present %v), want null", v, ok)
	}
	if v, ok := g["announcedOn"]; !ok || v != nil {
		t.Fatalf("announcedOn = %v (present %v), want null", v, ok)
	}
	entries := raw["guilds"]["1001"]["entries"].([]any)
	first := entries[0].(map[string]any)
	for _, k := range []string{"name", "month", "day", "addedBy", "md"} {
		if _, ok := first[k]; !ok {
			t.Fatalf("entry missing key %q: %v", k, first)
		}
	}
}

func TestUnmarshalRecomputesMonthDay(t *testing.T) {
	t.Parallel()
	regs, err := UnmarshalDocument([]byte(`{"guilds":{"g":{"channelId":null,"entries":[{"name":"A","month":3,"day":7,"addedBy":"u"}],"announcedOn":null}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := regs["g"].Entries[0].MD; got != "03-07" {
		t.Fatalf("md = %q, want 03-07", got)
	}
}

func openDriver(t *testing.T, driver string) (Store, string) {
	t.Helper()
	name := "birthdays.json"
	if driver == "sqlite" {
		name = "birthdays.db"
	}
	path := filepath.Join(t.TempDir(), name)
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	return st, path
}

func TestRepositoryContract(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, path := openDriver(t, driver)

			reg, err := st.Get(ctx, "unknown")
			if err != nil {
				t.Fatalf("Get(unknown) error: %v", err)
			}
			if reg == nil || len(reg.Entries) != 0 || reg.ChannelID != "" {
				t.Fatalf("Get(unknown) = %+v, want empty registry", reg)
			}

			want := sampleRegistries()
			for id, r := range want {
				if err := st.Save(ctx, id, r); err != nil {
					t.Fatalf("Save(%s) error: %v", id, err)
				}
			}
			tenants, err := st.Tenants(ctx)
			if err != nil || strings.Join(tenants, ",") != "1001,2002" {
				t.Fatalf("Tenants() = %v, %v; want [1001 2002]", tenants, err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			st2, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen error: %v", err)
			}
			defer st2.Close()
			for id, r := range want {
				got, err := st2.Get(ctx, id)
				if err != nil {
					t.Fatalf("Get(%s) after reopen error: %v", id, err)
				}
				if !reflect.DeepEqual(got, r) {
					t.Fatalf("Get(%s) after reopen = %+v, want %+v", id, got, r)
				}
			}

			// Save replaces, it does not append.
			one := &birthday.Registry{Entries: []birthday.Record{{Name: "Solo", Month: 1, Day: 1, MD: "01-01"}}}
			if err := st2.Save(ctx, "1001", one); err != nil {
				t.Fatal(err)
			}
			got, _ := st2.Get(ctx, "1001")
			if len(got.Entries) != 1 || got.ChannelID != "" {
				t.Fatalf("Get after replace = %+v", got)
			}
		})
	}
}

func TestFileStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, _ := openDriver(t, "file")
	defer st.Close()

	if err := st.Save(ctx, "g", &birthday.Registry{Entries: []birthday.Record{{Name: "A", Month: 1, Day: 1, MD: "01-01"}}}); err != nil {
		t.Fatal(err)
	}
	reg, _ := st.Get(ctx, "g")
	reg.Entries[0].Name = "mutated"
	reg.Entries = append(reg.Entries, birthday.Record{Name: "B"})

	again, _ := st.Get(ctx, "g")
	if len(again.Entries) != 1 || again.Entries[0].Name != "A" {
		t.Fatalf("stored registry changed through a returned copy: %+v", again)
	}
}

func TestFileStoreAtomicWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, path := openDriver(t, "file")
	defer st.Close()

	for i := 0; i < 5; i++ {
		if err := st.Save(ctx, "g", &birthday.Registry{ChannelID: "c"}); err != nil {
			t.Fatal(err)
		}
	}
	ents, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range ents {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	b, _ := os.ReadFile(path)
	if _, err := UnmarshalDocument(b); err != nil {
		t.Fatalf("document on disk is invalid: %v", err)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "birthdays.json")
	if err := os.WriteFile(path, []byte(`{"guilds": {`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open on corrupt document error: %v", err)
	}
	defer st.Close()

	tenants, _ := st.Tenants(context.Background())
	if len(tenants) != 0 {
		t.Fatalf("Tenants() = %v, want empty", tenants)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt copy not kept: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("Open(redis) succeeded, want error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("Open(file) without path succeeded, want error")
	}
}
