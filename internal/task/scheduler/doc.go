// Package scheduler runs named background jobs on cron expressions or fixed
// intervals in a configured timezone. A job that is still running when its
// next trigger fires is skipped, and every run is bounded by a timeout.
package scheduler
