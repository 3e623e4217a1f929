package application

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lauritowal/ai-ai-bias/internal/ports"
)

// position selects which presented description a fake judge picks.
type position int

const (
	pickFirst position = iota
	pickSecond
	pickNone
)

var sectionHeading = regexp.MustCompile(`(?m)^## .* (\d+)$`)

// fakeJudge is a scripted ports.JudgeGateway. Complete echoes the prompt so
// ExtractChoice can see which display IDs were presented and in what order.
type fakeJudge struct {
	pick position

	// prefer, when set, picks the section whose text contains it and
	// overrides pick.
	prefer string

	// err is returned by Complete.
	err error

	completions atomic.Int32
	mu          sync.Mutex
	prompts     []string
}

func (f *fakeJudge) Complete(_ context.Context, prompt string) (string, error) {
	f.completions.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return prompt, nil
}

func (f *fakeJudge) ExtractChoice(_ context.Context, rawText, _ string, candidateIDs []int) (int, bool, error) {
	if f.prefer != "" {
		if id, ok := sectionContaining(rawText, f.prefer); ok {
			return id, true, nil
		}
		return 0, false, nil
	}

	presented := presentedIDs(rawText)
	switch {
	case f.pick == pickNone, len(presented) != 2:
		return 0, false, nil
	case f.pick == pickFirst:
		return presented[0], true, nil
	default:
		return presented[1], true, nil
	}
}

func (f *fakeJudge) calls() int { return int(f.completions.Load()) }

func (f *fakeJudge) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// presentedIDs returns the display IDs of the prompt sections in order.
func presentedIDs(prompt string) []int {
	var ids []int
	for _, m := range sectionHeading.FindAllStringSubmatch(prompt, -1) {
		id, err := strconv.Atoi(m[1])
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// sectionContaining returns the display ID of the first section whose text
// contains needle.
func sectionContaining(prompt, needle string) (int, bool) {
	locs := sectionHeading.FindAllStringSubmatchIndex(prompt, -1)
	for i, loc := range locs {
		end := len(prompt)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if strings.Contains(prompt[loc[1]:end], needle) {
			id, err := strconv.Atoi(prompt[loc[2]:loc[3]])
			return id, err == nil
		}
	}
	return 0, false
}

// fakeJudges serves the same judge for every engine and counts lookups.
type fakeJudges struct {
	judge   *fakeJudge
	lookups atomic.Int32
	engines sync.Map
}

func newFakeJudges(j *fakeJudge) *fakeJudges { return &fakeJudges{judge: j} }

func (f *fakeJudges) JudgeFor(_ context.Context, engine string) (ports.JudgeGateway, error) {
	f.lookups.Add(1)
	if engine == "" {
		return nil, fmt.Errorf("empty engine: %w", ports.ErrUnknownEngine)
	}
	f.engines.Store(engine, true)
	return f.judge, nil
}
