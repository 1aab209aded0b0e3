package main

import (
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddresses(t *testing.T) {
	got, err := parseAddresses([]string{
		"0x000000000000000000000000000000000000000a, 0x000000000000000000000000000000000000000b",
		" 0x000000000000000000000000000000000000000c ",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []common.Address{
		common.HexToAddress("0xa"),
		common.HexToAddress("0xb"),
		common.HexToAddress("0xc"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("addresses mismatch: %v", got)
	}

	if _, err := parseAddresses([]string{"0x1234"}); err == nil {
		t.Fatalf("expected error for short address")
	}
	if _, err := parseAddresses([]string{" , "}); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("")
	if err != nil || v != nil {
		t.Fatalf("empty amount: %v %v", v, err)
	}
	v, err = parseAmount("1000000000000000000000")
	if err != nil || v.String() != "1000000000000000000000" {
		t.Fatalf("large amount: %v %v", v, err)
	}
	for _, bad := range []string{"-1", "1.5", "abc"} {
		if _, err := parseAmount(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID(" 42 "); err != nil || id != 42 {
		t.Fatalf("parse id: %d %v", id, err)
	}
	if _, err := parseID("-1"); err == nil {
		t.Fatalf("expected error for negative id")
	}
}
