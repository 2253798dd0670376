package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TUTORPAY_POSTGRES_USER", "postgres")
	t.Setenv("TUTORPAY_POSTGRES_PASSWORD", "postgres")
	t.Setenv("TUTORPAY_POSTGRES_HOST", "localhost")
	t.Setenv("TUTORPAY_POSTGRES_PORT", "5432")
	t.Setenv("TUTORPAY_POSTGRES_DB", "tutorpay")
	t.Setenv("TUTORPAY_POSTGRES_SSLMODE", "disable")
	t.Setenv("TUTORPAY_REDIS_HOST", "localhost")
	t.Setenv("TUTORPAY_REDIS_PORT", "6379")
	t.Setenv("TUTORPAY_NATS_HOST", "localhost")
	t.Setenv("TUTORPAY_NATS_PORT", "4222")
	t.Setenv("TUTORPAY_ADMIN_IDS", "111, 222")
}

func TestNew_DefaultsAndAdminList(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 111 || cfg.AdminIDs[1] != 222 {
		t.Fatalf("unexpected admin ids %v", cfg.AdminIDs)
	}
if cfg.SubmissionPolicy.MaxRequests != 5 || cfg.SubmissionPolicy.Window != time.Minute {
		t.Fatalf("unexpected submission policy %+v", cfg.SubmissionPolicy)
	}
	if cfg.DedupRetention != 7*24*time.Hour {
		t.Fatalf("unexpected dedup retention %s", cfg.DedupRetention)
	}
	if got := cfg.DSN(); !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestNew_FailsFastOnMissingAdmins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TUTORPAY_ADMIN_IDS", "")

	if _, err := New(); err == nil {
		t.Fatal("expected error for empty admin list")
	}
}

func TestNew_FailsFastOnBadAdminID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TUTORPAY_ADMIN_IDS", "111,abc")

	if _, err := New(); err == nil {
		t.Fatal("expected error for non-numeric admin id")
	}
}

func TestNew_FailsFastOnBadPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TUTORPAY_SUBMIT_MAX_REQUESTS", "-1")

	if _, err := New(); err == nil {
		t.Fatal("expected error for negative max requests")
	}
}

func TestApiAddr(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := New()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := cfg.ApiAddr(); err == nil {
		t.Fatal("expected error while API is disabled")
	}

	t.Setenv("TUTORPAY_API_ENABLED", "true")
	t.Setenv("TUTORPAY_API_PORT", "8080")
	cfg, err = New()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	addr, err := cfg.ApiAddr()
	if err != nil || addr != ":8080" {
		t.Fatalf("got %q, %v", addr, err)
	}
}
