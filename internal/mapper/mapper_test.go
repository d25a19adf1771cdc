package mapper

import (
	"math"
	"strconv"
	"testing"

	"github.com/frc-grafana/nt-bridge/internal/entry"
)

func TestTopicOf(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SmartDashboard/Angle 1", "SmartDashboardAngle1"},
		{"Angle", "Angle"},
		{"/LiveWindow/Drive Train/Left Encoder", "LiveWindowDriveTrainLeftEncoder"},
		{"a\tb\nc", "abc"},
		{`win\path`, "winpath"},
		{"A B", "AB"},
		{"AB", "AB"},
		{"/ /", ""},
		{"Ünïcode Näme", "ÜnïcodeNäme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopicOf(tt.name); got != tt.want {
				t.Errorf("TopicOf(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestTopicOf_Idempotent(t *testing.T) {
	inputs := []string{"SmartDashboard/Angle 1", "", "x", "a / b \\ c"}

	for _, in := range inputs {
		once := TopicOf(in)
		if again := TopicOf(in); again != once {
			t.Errorf("TopicOf(%q) not stable: %q vs %q", in, once, again)
		}
		if twice := TopicOf(once); twice != once {
			t.Errorf("TopicOf(TopicOf(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestPayloadOf_Filtering(t *testing.T) {
	tests := []struct {
		name  string
		value entry.Value
		want  string
		ok    bool
	}{
		{"double", entry.Double(42.5), "42.5", true},
		{"boolean", entry.Boolean(true), "", false},
		{"string", entry.String("x"), "", false},
		{"raw", entry.Raw{1}, "", false},
		{"boolean array", entry.BooleanArray{true}, "", false},
		{"double array", entry.DoubleArray{1}, "", false},
		{"string array", entry.StringArray{"a"}, "", false},
		{"unsupported", entry.Unsupported{Tag: entry.TypeRPCDefinition}, "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PayloadOf(tt.value)
			if ok != tt.ok || got != tt.want {
				t.Errorf("PayloadOf(%v) = %q, %v; want %q, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPayloadOf_RoundTrip(t *testing.T) {
	samples := []float64{
		0,
		-0.5,
		42.5,
		-273.15,
		1.0 / 3.0,
		math.Pi,
		0.1 + 0.2,
		1e-300,
		1.7976931348623157e308,
		math.SmallestNonzeroFloat64,
		123456789.123456789,
	}

	for _, d := range samples {
		payload, ok := PayloadOf(entry.Double(d))
		if !ok {
			t.Fatalf("PayloadOf(%v) returned false", d)
		}
		back, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			t.Fatalf("ParseFloat(%q) error = %v", payload, err)
		}
		if back != d {
			t.Errorf("round trip of %v via %q = %v", d, payload, back)
		}
	}
}
