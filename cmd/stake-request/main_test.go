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
		"--hash-lock":         "0x" + strings.Repeat("ab", 32),
	}
}

func argsWithout(key string) []string {
	m := validArgs()
	delete(m, key)
	out := make([]string, 0, 2*len(m))
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

func argsWith(key, value string) []string {
	m := validArgs()
	m[key] = value
	out := make([]string, 0, 2*len(m))
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

func TestRunMain_RejectsMissingFlags(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
	}{
		{"no gateway", argsWithout("--gateway-address")},
		{"no cogateway", argsWithout("--cogateway-address")},
		{"no beneficiary", argsWithout("--beneficiary")},
		{"no amount", argsWithout("--amount")},
		{"no hash lock", argsWithout("--hash-lock")},
		{"no key", argsWithout("--key-hex")},
		{"bad amount", argsWith("--amount", "-5")},
		{"bad hash lock", argsWith("--hash-lock", "0x1234")},
		{"bad gateway", argsWith("--gateway-address", "not-an-address")},
		{"zero timeout", argsWith("--timeout", "0s")},
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

func TestParseDecimal(t *testing.T) {
	t.Parallel()

	if _, err := parseDecimal("0x10"); err == nil {
		t.Fatalf("hex input accepted")
	}
	if _, err := parseDecimal(""); err == nil {
		t.Fatalf("empty input accepted")
	}
	v, err := parseDecimal("0")
	if err != nil || v.Sign() != 0 {
		t.Fatalf("zero should parse: v=%v err=%v", v, err)
	}
}
