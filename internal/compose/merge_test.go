package compose

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func clips(durations ...float64) []Clip {
	out := make([]Clip, len(durations))
	for i, d := range durations {
		out[i] = Clip{Path: fmt.Sprintf("/work/clip_%d.mp4", i), Duration: d, HasAudio: true}
	}
	return out
}

func TestClip_EffectiveDuration(t *testing.T) {
	tests := []struct {
		name    string
		clip    Clip
		want    float64
		wantErr bool
	}{
		{"untrimmed", Clip{Duration: 10}, 10, false},
		{"start only", Clip{Duration: 10, Trim: Trim{Start: ptr(2)}}, 8, false},
		{"end only", Clip{Duration: 10, Trim: Trim{End: ptr(4)}}, 4, false},
		{"both", Clip{Duration: 10, Trim: Trim{Start: ptr(1), End: ptr(3.5)}}, 2.5, false},
		{"end beyond duration", Clip{Duration: 10, Trim: Trim{Start: ptr(5), End: ptr(20)}}, 5, false},
		{"inverted", Clip{Duration: 10, Trim: Trim{Start: ptr(5), End: ptr(4)}}, 0, true},
		{"start past end", Clip{Duration: 10, Trim: Trim{Start: ptr(12)}}, 0, true},
		{"negative start", Clip{Duration: 10, Trim: Trim{Start: ptr(-1)}}, 0, true},
		{"unknown duration", Clip{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.clip.EffectiveDuration()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrim)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestBuildMerge_CrossfadeOffsets(t *testing.T) {
	plan, err := BuildMerge(MergeSpec{
		Clips:      clips(10, 8, 12),
		Mode:       ModeCrossfade,
		Transition: 1,
		Target:     Size{1080, 1920},
		Output:     "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{9, 16}, plan.Offsets)
	assert.Equal(t, 28.0, plan.Duration)
	assert.True(t, plan.HasAudio)

	f := plan.Command.Filter
	assert.Contains(t, f, "[0:v]fps=30[v1];[v1]settb=AVTB[v2];[v2]scale=1080:1920:force_original_aspect_ratio=decrease[v3]")
	assert.Contains(t, f, "xfade=transition=fade:duration=1:offset=9")
	assert.Contains(t, f, "xfade=transition=fade:duration=1:offset=16")
	assert.Equal(t, 2, strings.Count(f, "acrossfade=d=1"))
	assert.Less(t, strings.Index(f, "settb=AVTB"), strings.Index(f, "xfade"))
	assert.Len(t, plan.Command.Maps, 2)
}

func TestBuildMerge_CrossfadeWithTrim(t *testing.T) {
	cs := clips(20, 8)
	cs[0].Trim = Trim{Start: ptr(5), End: ptr(15)}

	plan, err := BuildMerge(MergeSpec{
		Clips:      cs,
		Mode:       ModeCrossfade,
		Transition: 0.5,
		Target:     Size{1280, 720},
		Output:     "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{9.5}, plan.Offsets)
	assert.Equal(t, 17.5, plan.Duration)
	assert.Contains(t, plan.Command.Filter, "[0:v]trim=start=5:end=15[v1];[v1]setpts=PTS-STARTPTS[v2]")
	assert.Contains(t, plan.Command.Filter, "[0:a]atrim=start=5:end=15[a1]")
}

func TestBuildMerge_HardCut(t *testing.T) {
	plan, err := BuildMerge(MergeSpec{
		Clips:  clips(3, 4),
		Mode:   ModeNone,
		Target: Size{1080, 1920},
		Output: "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, 7.0, plan.Duration)
	assert.Empty(t, plan.Offsets)
	f := plan.Command.Filter
	assert.NotContains(t, f, "xfade")
	assert.NotContains(t, f, "fps=")
	assert.Contains(t, f, "pad=1080:1920:(ow-iw)/2:(oh-ih)/2")
	assert.Contains(t, f, "concat=n=2:v=1:a=1")
	assert.Equal(t, []string{"[v7]", "[a3]"}, plan.Command.Maps)
}

func TestBuildMerge_VideoOnlyWhenAnyClipSilent(t *testing.T) {
	cs := clips(3, 4)
	cs[1].HasAudio = false

	plan, err := BuildMerge(MergeSpec{
		Clips:      cs,
		Mode:       ModeCrossfade,
		Transition: 1,
		Target:     Size{1080, 1920},
		Output:     "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.False(t, plan.HasAudio)
	assert.NotContains(t, plan.Command.Filter, "acrossfade")
	assert.Len(t, plan.Command.Maps, 1)
	assert.Contains(t, plan.Command.OutputArgs, "-an")
}

func TestBuildMerge_SingleClip(t *testing.T) {
	plan, err := BuildMerge(MergeSpec{
		Clips:      clips(5),
		Mode:       ModeCrossfade,
		Transition: 10,
		Target:     Size{1080, 1920},
		Output:     "/work/out.mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, 5.0, plan.Duration)
	assert.NotContains(t, plan.Command.Filter, "xfade")
}

func TestBuildMerge_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec MergeSpec
		want error
	}{
		{"no clips", MergeSpec{Target: Size{2, 2}, Output: "o"}, ErrNoClips},
		{"no output", MergeSpec{Clips: clips(1), Target: Size{2, 2}}, ErrMissingInput},
		{"bad size", MergeSpec{Clips: clips(1), Target: Size{3, 2}, Output: "o"}, ErrInvalidSize},
		{"unknown mode", MergeSpec{Clips: clips(1), Mode: "wipe", Target: Size{2, 2}, Output: "o"}, ErrInvalidTransition},
		{"zero transition", MergeSpec{Clips: clips(2, 2), Mode: ModeCrossfade, Target: Size{2, 2}, Output: "o"}, ErrInvalidTransition},
		{"transition too long", MergeSpec{Clips: clips(5, 1), Mode: ModeCrossfade, Transition: 1, Target: Size{2, 2}, Output: "o"}, ErrInvalidTransition},
		{"bad trim", MergeSpec{Clips: []Clip{{Path: "a", Duration: 3, Trim: Trim{Start: ptr(4)}}}, Target: Size{2, 2}, Output: "o"}, ErrInvalidTrim},
		{"empty clip path", MergeSpec{Clips: []Clip{{Duration: 3}}, Target: Size{2, 2}, Output: "o"}, ErrMissingInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildMerge(tt.spec)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildMerge_CrossfadeDurationProperty(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 300; i++ {
		n := 1 + r.IntN(6)
		durations := make([]float64, n)
		var sum float64
		for j := range durations {
			durations[j] = 1.5 + r.Float64()*20
			sum += durations[j]
		}
		transition := 0.1 + r.Float64()

		plan, err := BuildMerge(MergeSpec{
			Clips:      clips(durations...),
			Mode:       ModeCrossfade,
			Transition: transition,
			Target:     Size{640, 360},
			Output:     "/work/out.mp4",
		})
		require.NoError(t, err)
		assert.InDelta(t, sum-float64(n-1)*transition, plan.Duration, 0.002)
		assert.Len(t, plan.Offsets, n-1)
	}
}

func TestParseTransitionMode(t *testing.T) {
	m, err := ParseTransitionMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeNone, m)

	m, err = ParseTransitionMode("Crossfade")
	require.NoError(t, err)
	assert.Equal(t, ModeCrossfade, m)

	_, err = ParseTransitionMode("wipe")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
