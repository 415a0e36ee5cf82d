package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
		want Parsed
	}{
		{name: "plain", in: "/start", ok: true, want: Parsed{Kind: Start, Name: "start", Args: []string{}}},
		{name: "args", in: "/ban 123 5", ok: true, want: Parsed{Kind: Ban, Name: "ban", Args: []string{"123", "5"}, Body: "123 5"}},
		{name: "bot suffix", in: "/unban@mod_bot 9", ok: true, want: Parsed{Kind: Unban, Name: "unban", Args: []string{"9"}, Body: "9"}},
		{name: "underscore", in: "/banned_users", ok: true, want: Parsed{Kind: BannedUsers, Name: "banned_users", Args: []string{}}},
		{name: "case sensitive", in: "/START", ok: true, want: Parsed{Kind: Unknown, Name: "START", Args: []string{}}},
		{name: "unknown", in: "/foo bar", ok: true, want: Parsed{Kind: Unknown, Name: "foo", Args: []string{"bar"}, Body: "bar"}},
		{name: "not a command", in: "hello /start", ok: false},
		{name: "bare slash", in: "/", ok: false},
		{name: "empty", in: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Parse(tc.in)
			require.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseBroadcastKeepsBody(t *testing.T) {
	got, ok := Parse("/broadcast   Hello,\n  world!  ")
	require.True(t, ok)
	require.Equal(t, Broadcast, got.Kind)
	require.Equal(t, "Hello,\n  world!", got.Body)
	require.Equal(t, []string{"Hello,", "world!"}, got.Args)
}

func TestKindString(t *testing.T) {
	for _, k := range All() {
		p, ok := Parse("/" + k.String())
		require.True(t, ok)
		require.Equal(t, k, p.Kind)
	}
	require.Equal(t, "unknown", Unknown.String())
}
