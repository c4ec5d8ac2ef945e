package chain

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "whole usdc", amount: "50000", decimals: USDCDecimals, want: "50000000000"},
		{name: "fractional usdc", amount: "1.5", decimals: USDCDecimals, want: "1500000"},
		{name: "shares", amount: "0.25", decimals: ShareDecimals, want: "250000"},
		{name: "padded", amount: "  2 ", decimals: USDCDecimals, want: "2000000"},
		{name: "too precise", amount: "0.0000001", decimals: USDCDecimals, wantErr: true},
		{name: "negative", amount: "-1", decimals: USDCDecimals, wantErr: true},
		{name: "garbage", amount: "abc", decimals: USDCDecimals, wantErr: true},
		{name: "empty", amount: "", decimals: USDCDecimals, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseUnits(tc.amount, tc.decimals)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestParseUnitsOverflow(t *testing.T) {
	huge := "1" + strings.Repeat("0", 80)
	if _, err := ParseUnits(huge, 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestFormatUnits(t *testing.T) {
	if got := FormatUnits(big.NewInt(1_234_567), USDCDecimals).String(); got != "1.234567" {
		t.Fatalf("unexpected format %s", got)
	}
	if got := ToFloat(new(big.Int).Mul(big.NewInt(3), big.NewInt(1e17)), ETHDecimals); got != 0.3 {
		t.Fatalf("unexpected float %v", got)
	}
	if !FormatUnits(nil, USDCDecimals).IsZero() {
		t.Fatalf("nil should format as zero")
	}
}

func TestParseBaseUnits(t *testing.T) {
	got, err := ParseBaseUnits("1000000")
	if err != nil || got.Int64() != 1_000_000 {
		t.Fatalf("unexpected result %v %v", got, err)
	}
	if _, err := ParseBaseUnits("1.5"); err == nil {
		t.Fatalf("expected fractional base units to fail")
	}
}
