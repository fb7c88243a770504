package main

import (
	"bytes"
	"strings"
	"testing"
)

func validArgs() map[string]string {
	return map[string]string{
		"--origin-rpc-url":    "http://127.0.0.1:8545",
		"--origin-chain-id":   "1",
		"--aux-rpc-url":       "http://127.0.0.1:9545",
		"--aux-chain-id":      "2",
		"--gateway-address":   "0x1111111111111111111111111111111111111111",
		"--cogateway-address": "0x2222222222222222222222222222222222222222",
		"--key-hex":           "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"--amount":            "1000",
		"--beneficiary":       "0x3333333333333333333333333333333333333333",
		"--hash-lock":         "0x" + strings.Repeat("cd", 32),
	}
}

func argsWith(overrides map[string]string, without ...string) []string {
	m := validArgs()
	for k, v := range overrides {
		m[k] = v
	}
	for _, k := range without {
		delete(m, k)
	}
	out := make([]string, 0, 2*len(m))
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

func TestRunMain_RejectsMalformedArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{"no cogateway", argsWith(nil, "--cogateway-address")},
		{"no amount", argsWith(nil, "--amount")},
		{"no hash lock", argsWith(nil, "--hash-lock")},
		{"no key", argsWith(nil, "--key-hex")},
		{"both key sources", argsWith(map[string]string{"--key-file": "/tmp/key"})},
		{"bad redeemer", argsWith(map[string]string{"--redeemer": "zzz"})},
		{"negative gas price", argsWith(map[string]string{"--gas-price": "-1"})},
		{"truncated hash lock", argsWith(map[string]string{"--hash-lock": "0xcd"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			if err := runMain(tc.args, &out); err == nil {
				t.Fatalf("expected validation error")
			}
			if out.Len() != 0 {
				t.Fatalf("no output expected on failure, got %q", out.String())
			}
		})
	}
}
