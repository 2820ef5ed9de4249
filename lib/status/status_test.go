// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package status

import (
	"strings"
	"testing"
)

func TestStatusText(t *testing.T) {
	st := Status{
		PendingCallbacks: 1,
		Polling: Worker{
			State:  "running",
			InSize: 2,
		},
		Native: Worker{
			State:  "stopped",
			OutErr: "queue overflow",
		},
	}

	text := st.String()
	for _, want := range []string{
		"SENTINEL STATUS SUMMARY",
		"1 pending callback\n",
		"* polling worker:",
		"state: running",
		"2 in queue messages",
		"* native worker:",
		"state: stopped",
		"out queue health: queue overflow",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("status text missing %q:\n%s", want, text)
		}
	}
}

func TestPlural(t *testing.T) {
	if got := plural(1, "root"); got != "1 root" {
		t.Errorf("plural(1) = %q", got)
	}
	if got := plural(3, "root"); got != "3 roots" {
		t.Errorf("plural(3) = %q", got)
	}
	if got := plural(0, "message"); got != "0 messages" {
		t.Errorf("plural(0) = %q", got)
	}
}
