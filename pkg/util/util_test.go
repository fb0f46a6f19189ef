// util_test.go — ClampInt / Env* / LoadFromEnv 表驱动测试。
package util

import "testing"

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"below_min", -1, 0, 10, 0},
		{"above_max", 20, 0, 10, 10},
		{"in_range", 5, 0, 10, 5},
		{"at_min", 0, 0, 10, 0},
		{"at_max", 10, 0, 10, 10},
		{"negative_range", -5, -10, -1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampInt(tt.v, tt.lo, tt.hi)
			if got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"unset", "", 5},
		{"valid", "12", 12},
		{"garbage", "abc", 5},
		{"below_min", "-3", 1},
		{"padded", " 7 ", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GENRUNTIME_TEST_INT", tt.raw)
			if got := EnvInt("GENRUNTIME_TEST_INT", 5, 1); got != tt.want {
				t.Errorf("EnvInt(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("GENRUNTIME_TEST_BOOL", tt.raw)
		if got := EnvBool("GENRUNTIME_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("EnvBool(%q, %v) = %v, want %v", tt.raw, tt.def, got, tt.want)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	type sample struct {
		Addr     string  `env:"GENRUNTIME_TEST_ADDR" default:":8080"`
		Attempts int     `env:"GENRUNTIME_TEST_ATTEMPTS" default:"3" min:"1"`
		Ratio    float64 `env:"GENRUNTIME_TEST_RATIO" default:"0.5"`
		Debug    bool    `env:"GENRUNTIME_TEST_DEBUG" default:"false"`
		Skipped  string
	}

	t.Setenv("GENRUNTIME_TEST_ADDR", "")
	t.Setenv("GENRUNTIME_TEST_ATTEMPTS", "0")
	t.Setenv("GENRUNTIME_TEST_RATIO", "1.25")
	t.Setenv("GENRUNTIME_TEST_DEBUG", "true")

	s := sample{Skipped: "keep", Ratio: 0.75}
	LoadFromEnv(&s)

	if s.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", s.Addr)
	}
	if s.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (min)", s.Attempts)
	}
	if s.Ratio != 0.75 {
		t.Errorf("Ratio = %v, unsupported kinds must keep their value", s.Ratio)
	}
	if !s.Debug {
		t.Error("Debug = false, want true")
	}
	if s.Skipped != "keep" {
		t.Errorf("Skipped = %q, untagged field must not change", s.Skipped)
	}
}

func TestLoadFromEnv_RejectsNonPointer(t *testing.T) {
	// 非指针 / nil 不应 panic
	LoadFromEnv(nil)
	LoadFromEnv(struct{}{})
	var p *struct{}
	LoadFromEnv(p)
}
