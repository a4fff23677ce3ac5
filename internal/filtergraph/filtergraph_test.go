package filtergraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Chain(t *testing.T) {
	g := New()
	scaled := g.Add(Video, "scale", []string{"0:v"}, Arg(3413), Arg(1920))
	cropped := g.Add(Video, "crop", []string{scaled}, Arg(1080), Arg(1920), Arg(1166), Arg(0))
	mixed := g.Add(Audio, "amix", []string{"1:a", "2:a"}, P("inputs", 2), P("duration", "first"))

	assert.Equal(t, "v1", scaled)
	assert.Equal(t, "v2", cropped)
	assert.Equal(t, "a1", mixed)

	got, err := g.String()
	require.NoError(t, err)
	assert.Equal(t,
		"[0:v]scale=3413:1920[v1];[v1]crop=1080:1920:1166:0[v2];[1:a][2:a]amix=inputs=2:duration=first[a1]",
		got)
	assert.Equal(t, []string{"v2", "a1"}, g.Unconsumed())
}

func TestGraph_AddMulti(t *testing.T) {
	g := New()
	outs := g.AddMulti("concat", []string{"0:v", "0:a", "1:v", "1:a"}, []Kind{Video, Audio},
		P("n", 2), P("v", 1), P("a", 1))

	assert.Equal(t, []string{"v1", "a1"}, outs)
	got, err := g.String()
	require.NoError(t, err)
	assert.Equal(t, "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[v1][a1]", got)
}

func TestGraph_Errors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := New().String()
		assert.ErrorIs(t, err, ErrEmptyGraph)
	})

	t.Run("unknown label", func(t *testing.T) {
		g := New()
		g.Add(Video, "null", []string{"v9"})
		_, err := g.String()
		assert.ErrorIs(t, err, ErrUnknownLabel)
	})

	t.Run("reused label", func(t *testing.T) {
		g := New()
		v := g.Add(Video, "null", []string{"0:v"})
		g.Add(Video, "null", []string{v})
		g.Add(Video, "null", []string{v})
		_, err := g.String()
		assert.ErrorIs(t, err, ErrLabelReused)
	})

	t.Run("stream specifiers may repeat", func(t *testing.T) {
		g := New()
		g.Add(Video, "null", []string{"0:v"})
		g.Add(Video, "null", []string{"0:v"})
		_, err := g.String()
		assert.NoError(t, err)
	})
}

func TestGraph_EscapesValues(t *testing.T) {
	g := New()
	g.Add(Video, "drawtext", []string{"0:v"},
		P("text", Text("Hi: it's 100%")),
		P("x", "if(gte(t,1),10,20)"))

	got, err := g.String()
	require.NoError(t, err)
	assert.Equal(t, `[0:v]drawtext=text=Hi\\: it\\\'s 100\\%:x=if(gte(t\,1)\,10\,20)[v1]`, got)
}

func TestIsStreamSpecifier(t *testing.T) {
	assert.True(t, IsStreamSpecifier("0:v"))
	assert.True(t, IsStreamSpecifier("12:a:0"))
	assert.False(t, IsStreamSpecifier("v1"))
	assert.False(t, IsStreamSpecifier("x:v"))
	assert.False(t, IsStreamSpecifier(":v"))
	assert.Equal(t, "3:a", Stream(3, Audio))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `C\:/tmp/it\'s.ass`, Escape(`C:/tmp/it's.ass`))
	assert.Equal(t, "/tmp/job-1/captions.ass", Escape("/tmp/job-1/captions.ass"))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.4", P("v", 0.4).Value)
	assert.Equal(t, "2", P("v", 2.0).Value)
	assert.Equal(t, "1", P("v", true).Value)
	assert.Equal(t, "7", Arg(int64(7)).Value)
}
