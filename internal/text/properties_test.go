package text

import (
	"reflect"
	"testing"
)

func TestClassifySpeed(t *testing.T) {
	cases := []struct {
		name  string
		speed float64
		want  SpeedClass
	}{
		{"slow", 2.0, SpeedSlow},
		{"default", 4.2, SpeedNormal},
		{"boundary slow", 3.5, SpeedNormal},
		{"fast", 6.0, SpeedFast},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySpeed(tc.speed); got != tc.want {
				t.Fatalf("ClassifySpeed(%v) = %v, want %v", tc.speed, got, tc.want)
			}
		})
	}
}

func TestClassifyPitch(t *testing.T) {
	cases := []struct {
		name   string
		pitch  float64
		gender string
		age    string
		want   PitchClass
	}{
		{"default female adult", 200.0, "female", "youth-adult", PitchNormal},
		{"low male adult", 80.0, "male", "youth-adult", PitchLow},
		{"high male adult", 200.0, "male", "youth-adult", PitchHigh},
		{"normal male adult", 120.0, "male", "youth-adult", PitchNormal},
		{"child high band", 240.0, "female", "child", PitchNormal},
		{"child low band", 150.0, "male", "child", PitchLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyPitch(tc.pitch, tc.gender, tc.age); got != tc.want {
				t.Fatalf("ClassifyPitch(%v, %q, %q) = %v, want %v", tc.pitch, tc.gender, tc.age, got, tc.want)
			}
		})
	}
}

func TestConvertStandardPropertiesToTokens(t *testing.T) {
	got := ConvertStandardPropertiesToTokens(SpeedNormal, PitchNormal, "youth-adult", "female", "neutral")
	want := []int64{
		speedTokens[SpeedNormal],
		pitchTokens[PitchNormal],
		ageTokens["youth-adult"],
		genderTokens["female"],
		emotionTokens["neutral"],
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ConvertStandardPropertiesToTokens = %v, want %v", got, want)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 tokens, got %d", len(got))
	}
}

func TestConvertStandardPropertiesToTokens_UnknownFallsBack(t *testing.T) {
	got := ConvertStandardPropertiesToTokens(SpeedFast, PitchLow, "unknown-age", "nonbinary", "giddy")
	want := []int64{
		speedTokens[SpeedFast],
		pitchTokens[PitchLow],
		ageTokens["youth-adult"],
		genderTokens["female"],
		emotionTokens["neutral"],
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ConvertStandardPropertiesToTokens fallback = %v, want %v", got, want)
	}
}
