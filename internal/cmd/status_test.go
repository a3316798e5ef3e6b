package cmd

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"tlifarm/internal/relay"
	"tlifarm/internal/session"
)

func TestStatusCmd(t *testing.T) {
	isolate(t)
	agg := session.New()
	if _, err := agg.StartSession(""); err != nil {
		t.Fatal(err)
	}
	agg.AddDrop(100200, 4)

	srv := httptest.NewServer(relay.NewHub(agg, 0).Handler())
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	out, err := runCmd(t, "status", "--addr", addr)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Items:           4 (1 unique)") {
		t.Errorf("output = %q", out)
	}

	out, err = runCmd(t, "status", "--addr", addr, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var st session.SessionStats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if st.TotalItems != 4 {
		t.Errorf("total items = %d", st.TotalItems)
	}
}

func TestStatusCmd_NoAddr(t *testing.T) {
	isolate(t)
	_, err := runCmd(t, "status")
	if err == nil || !strings.Contains(err.Error(), "no relay address") {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusCmd_Unreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(nil)
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	if _, err := runCmd(t, "status", "--addr", addr); err == nil {
		t.Fatal("expected error for a closed relay")
	}
}
