// Package replay 从录制文件 (YAML 场景或 JSONL 帧) 重放一个或多个 turn,
// 并校验结果。供 cmd/genreplay 与测试使用。
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/multi-agent/genruntime/internal/generation"
	apperrors "github.com/multi-agent/genruntime/pkg/errors"
)

// Scenario is one recorded turn.
type Scenario struct {
	Name        string           `yaml:"name"`
	Scope       generation.Scope `yaml:"scope"`
	CancelAfter int              `yaml:"cancelAfter"` // >0: HandleCancelled after N frames
	Events      []map[string]any `yaml:"events"`
	Expect      *Expect          `yaml:"expect"`

	frames [][]byte
}

// Expect describes the final state a scenario must reach. Zero fields are not
// checked.
type Expect struct {
	TraceStatus      string   `yaml:"traceStatus"`
	Content          *string  `yaml:"content"`
	Parts            *int     `yaml:"parts"`
	Segments         *int     `yaml:"segments"`
	ToolCalls        *int     `yaml:"toolCalls"`
	Interrupted      *int     `yaml:"interrupted"`
	IntegrationsUsed []string `yaml:"integrationsUsed"`
	SandboxFiles     *int     `yaml:"sandboxFiles"`
	Ignored          *int     `yaml:"ignored"`
	Dropped          *int     `yaml:"dropped"`
}

// scenariosFile is the YAML root.
type scenariosFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadFile reads scenarios from path. ".jsonl"/".ndjson" files hold one frame
// per line and form a single scenario named after the file.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "replay.LoadFile", "read "+path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		sc, err := ParseJSONL(data)
		if err != nil {
			return nil, err
		}
		sc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return []Scenario{sc}, nil
	default:
		return ParseYAML(data)
	}
}

// ParseYAML decodes a `scenarios:` document.
func ParseYAML(data []byte) ([]Scenario, error) {
	var file scenariosFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "replay.ParseYAML", err.Error())
	}
	for i := range file.Scenarios {
		sc := &file.Scenarios[i]
		for j, ev := range sc.Events {
			raw, err := json.Marshal(ev)
			if err != nil {
				return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "replay.ParseYAML", "scenario %q event %d: %v", sc.Name, j, err)
			}
			sc.frames = append(sc.frames, raw)
		}
	}
	return file.Scenarios, nil
}

// ParseJSONL reads one JSON frame per non-blank line.
func ParseJSONL(data []byte) (Scenario, error) {
	var sc Scenario
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}
		if !json.Valid(text) {
			return Scenario{}, apperrors.Newf("replay.ParseJSONL", "line %d: invalid JSON", line)
		}
		sc.frames = append(sc.frames, slices.Clone(text))
	}
	if err := scanner.Err(); err != nil {
		return Scenario{}, apperrors.Wrap(err, "replay.ParseJSONL", "scan")
	}
	return sc, nil
}

// Frames returns the raw JSON frames of the scenario.
func (s *Scenario) Frames() [][]byte { return s.frames }

// Options tune a replay run.
type Options struct {
	// CancelAfter overrides Scenario.CancelAfter when > 0.
	CancelAfter int
	// Clock stamps frames without "at". Defaults to time.Now.
	Clock func() time.Time
}

// Result is the outcome of replaying one scenario.
type Result struct {
	Name     string                      `json:"name"`
	Snapshot generation.Snapshot         `json:"snapshot"`
	Message  generation.AssistantMessage `json:"message"`
	Stats    generation.ActivityStats    `json:"stats"`
	Applied  int                         `json:"applied"`
	Ignored  map[string]int              `json:"ignored"`
	Dropped  int                         `json:"dropped"`
	Unknown  int                         `json:"unknown"`
}

// IgnoredTotal sums ignored outcomes over all reasons.
func (r *Result) IgnoredTotal() int {
	n := 0
	for _, v := range r.Ignored {
		n += v
	}
	return n
}

// Run replays s on a fresh runtime. Frames tagged for another scope are
// dropped before they reach the runtime; unknown types are counted and skipped.
func Run(s Scenario, opts Options) (*Result, error) {
	var rtOpts []generation.Option
	if opts.Clock != nil {
		rtOpts = append(rtOpts, generation.WithClock(opts.Clock))
	}
	rt := generation.New(s.Scope, rtOpts...)
	res := &Result{Name: s.Name, Ignored: map[string]int{}}

	cancelAfter := s.CancelAfter
	if opts.CancelAfter > 0 {
		cancelAfter = opts.CancelAfter
	}

	for i, frame := range s.frames {
		if cancelAfter > 0 && i == cancelAfter {
			break
		}
		ev, err := generation.DecodeEvent(frame)
		if err != nil {
			if errors.Is(err, apperrors.ErrUnknownEvent) {
				res.Unknown++
				continue
			}
			return nil, apperrors.Wrapf(err, "replay.Run", "scenario %q frame %d", s.Name, i)
		}
		if !s.Scope.Accepts(ev) {
			res.Dropped++
			continue
		}
		res.count(rt.Apply(ev))
	}
	if cancelAfter > 0 {
		res.count(rt.HandleCancelled())
	}

	res.Snapshot = rt.Snapshot()
	res.Message = rt.BuildAssistantMessage()
	res.Stats = rt.ActivityStats()
	return res, nil
}

func (r *Result) count(out generation.Outcome) {
	if out.Applied {
		r.Applied++
		return
	}
	r.Ignored[string(out.Reason)]++
}

// Check compares the result against e and returns one line per mismatch.
func (r *Result) Check(e *Expect) []string {
	if e == nil {
		return nil
	}
	var diffs []string
	mismatch := func(field string, got, want any) {
		diffs = append(diffs, fmt.Sprintf("%s = %v, want %v", field, got, want))
	}
	if e.TraceStatus != "" && string(r.Snapshot.TraceStatus) != e.TraceStatus {
		mismatch("traceStatus", r.Snapshot.TraceStatus, e.TraceStatus)
	}
	if e.Content != nil && r.Message.Content != *e.Content {
		mismatch("content", fmt.Sprintf("%q", r.Message.Content), fmt.Sprintf("%q", *e.Content))
	}
	checkInt := func(field string, want *int, got int) {
		if want != nil && got != *want {
			mismatch(field, got, *want)
		}
	}
	checkInt("parts", e.Parts, len(r.Snapshot.Parts))
	checkInt("segments", e.Segments, len(r.Snapshot.Segments))
	checkInt("toolCalls", e.ToolCalls, r.Stats.TotalToolCalls)
	checkInt("interrupted", e.Interrupted, r.Stats.InterruptedToolCalls)
	checkInt("sandboxFiles", e.SandboxFiles, len(r.Snapshot.SandboxFiles))
	checkInt("ignored", e.Ignored, r.IgnoredTotal())
	checkInt("dropped", e.Dropped, r.Dropped)
	if e.IntegrationsUsed != nil && !slices.Equal(r.Snapshot.IntegrationsUsed, e.IntegrationsUsed) {
		mismatch("integrationsUsed", r.Snapshot.IntegrationsUsed, e.IntegrationsUsed)
	}
	return diffs
}
