package glob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Anchored(t *testing.T) {
	re, err := Compile("prompt:*")
	require.NoError(t, err)

	assert.True(t, re.MatchString("prompt:1"))
	assert.True(t, re.MatchString("prompt:"))
	assert.False(t, re.MatchString("xprompt:1"), "match must be anchored at start")
	assert.False(t, re.MatchString("other:1"))
}

func TestCompile_QuestionMark(t *testing.T) {
	re, err := Compile("user:?")
	require.NoError(t, err)

	assert.True(t, re.MatchString("user:1"))
	assert.True(t, re.MatchString("user:a"))
	assert.False(t, re.MatchString("user:12"), "? matches exactly one character")
	assert.False(t, re.MatchString("user:"))
}

func TestCompile_EscapesMetacharacters(t *testing.T) {
	cases := []struct {
		pattern string
		match   string
		noMatch string
	}{
		{"a.b", "a.b", "aXb"},
		{"a+b", "a+b", "ab"},
		{"a(b)c", "a(b)c", "abc"},
		{"a[0]", "a[0]", "a0"},
		{"a|b", "a|b", "a"},
		{"a^b$c", "a^b$c", "abc"},
		{"a\\b", "a\\b", "ab"},
	}

	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			re, err := Compile(tc.pattern)
			require.NoError(t, err)
			assert.True(t, re.MatchString(tc.match), "expected %q to match %q", tc.pattern, tc.match)
			assert.False(t, re.MatchString(tc.noMatch), "expected %q not to match %q", tc.pattern, tc.noMatch)
		})
	}
}

func TestCompile_MixedWildcardsAndMeta(t *testing.T) {
	re, err := Compile("search:v1.2:*")
	require.NoError(t, err)

	assert.True(t, re.MatchString("search:v1.2:abc"))
	assert.False(t, re.MatchString("search:v1x2:abc"), "dot must be literal")
}

func TestCompile_EmptyPattern(t *testing.T) {
	re, err := Compile("")
	require.NoError(t, err)

	assert.True(t, re.MatchString(""))
	assert.False(t, re.MatchString("anything"))
}

func TestMatch(t *testing.T) {
	ok, err := Match("prompt:*", "prompt:42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match("prompt:*", "other:42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsPattern(t *testing.T) {
	assert.True(t, IsPattern("prompt:*"))
	assert.True(t, IsPattern("user:?"))
	assert.False(t, IsPattern("plain-key"))
}
