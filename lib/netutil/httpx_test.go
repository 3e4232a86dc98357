// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	var out struct {
		OK   bool     `json:"ok"`
		Data []string `json:"data"`
	}
	body := strings.NewReader(`{"ok": true, "data": ["foo", "bar"]}`)
	if err := DecodeResponse(body, &out); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !out.OK || len(out.Data) != 2 {
		t.Errorf("decoded = %+v, want ok with 2 entries", out)
	}
}

func TestDecodeResponseRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := DecodeResponse(strings.NewReader("not json"), &out); err == nil {
		t.Error("DecodeResponse(garbage) succeeded, want error")
	}
}

func TestErrorBodyNeverFails(t *testing.T) {
	if got := ErrorBody(strings.NewReader("upstream exploded")); got != "upstream exploded" {
		t.Errorf("ErrorBody = %q", got)
	}
	if got := ErrorBody(strings.NewReader("")); got != "" {
		t.Errorf("ErrorBody(empty) = %q", got)
	}
}
