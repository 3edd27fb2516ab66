package controllers

import (
	"encoding/json"
	"testing"

	forgev1alpha1 "github.com/anvil-platform/forge/api/v1alpha1"
)

func TestParameterValue(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{in: "true", want: true},
		{in: " false ", want: false},
		{in: "0.05", want: 0.05},
		{in: "12", want: 12.0},
		{in: "inf", want: "inf"},
		{in: "-Infinity", want: "-Infinity"},
		{in: "NaN", want: "NaN"},
		{in: "aluminium", want: "aluminium"},
	}
	for _, tc := range cases {
		if got := parameterValue(tc.in); got != tc.want {
			t.Errorf("parameterValue(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestToFacility_NonFiniteParametersStayEncodable(t *testing.T) {
	f := facilityObject("mill-co", "manufacturing", nil, "milling")
	f.Spec.Parameters = forgev1alpha1.Parameters{"grade": "NaN"}
	f.Spec.Capabilities[0].Parameters = forgev1alpha1.Parameters{"tolerance": "inf"}

	capability := toFacility(f).Capabilities[0]
	if capability.Parameters["tolerance"] != "inf" || capability.Parameters["grade"] != "NaN" {
		t.Fatalf("expected raw strings, got %#v", capability.Parameters)
	}
	if _, err := json.Marshal(capability.Parameters); err != nil {
		t.Fatalf("marshal parameters: %v", err)
	}
}

func TestParseFraction_RejectsNaN(t *testing.T) {
	for _, in := range []string{"NaN", "inf", "1.5", "-0.1", "high"} {
		if _, err := parseFraction(in, 0.5); err == nil {
			t.Errorf("parseFraction(%q) accepted", in)
		}
	}
	if got, err := parseFraction("", 0.5); err != nil || got != 0.5 {
		t.Fatalf("expected default 0.5, got %v (%v)", got, err)
	}
}
