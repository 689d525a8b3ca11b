package config_test

import (
	"testing"

	"github.com/joeycumines/go-cosched/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarSetFiresMonitorsAfterCommit(t *testing.T) {
	v, err := config.NewVar("retry.limit", 3, "max retry attempts")
	require.NoError(t, err)
	require.Equal(t, 3, v.Get())

	type change struct{ old, now int }
	var seen []change
	id := v.AddMonitor(func(old, now int) {
		// the committed value is visible from inside the callback
		assert.Equal(t, now, v.Get())
		seen = append(seen, change{old, now})
	})

	v.Set(5)
	v.Set(5)
	v.Set(7)
	require.Equal(t, []change{{3, 5}, {5, 7}}, seen)

	v.DelMonitor(id)
	v.Set(9)
	assert.Len(t, seen, 2)
	assert.Equal(t, 9, v.Get())
}

func TestVarMonitorsFireInRegistrationOrder(t *testing.T) {
	v, err := config.NewVar("startup.banner", "a", "")
	require.NoError(t, err)

	var order []int
	v.AddMonitor(func(_, _ string) { order = append(order, 1) })
	v.AddMonitor(func(_, _ string) { order = append(order, 2) })
	v.AddMonitor(func(_, _ string) { order = append(order, 3) })

	v.Set("b")
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestVarScalarStrings(t *testing.T) {
	v, err := config.NewVar("server.port", 0, "")
	require.NoError(t, err)

	require.NoError(t, v.FromString("8080"))
	assert.Equal(t, 8080, v.Get())

	s, err := v.ToString()
	require.NoError(t, err)
	assert.Equal(t, "8080\n", s)

	err = v.FromString("not a port")
	require.Error(t, err)
	assert.Equal(t, 8080, v.Get(), "failed decode must not clobber the value")
}

func TestVarSequenceRoundTrip(t *testing.T) {
	v, err := config.NewVar("int_vec", []int{0, 10, 100}, "")
	require.NoError(t, err)

	s, err := v.ToString()
	require.NoError(t, err)
	assert.Equal(t, "- 0\n- 10\n- 100\n", s)

	require.NoError(t, v.FromString("[1000, -1000, 9999999]"))
	assert.Equal(t, []int{1000, -1000, 9999999}, v.Get())

	// encode reaches a fixpoint after one pass
	s1, err := v.ToString()
	require.NoError(t, err)
	require.NoError(t, v.FromString(s1))
	s2, err := v.ToString()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestVarMapRoundTrip(t *testing.T) {
	v, err := config.NewVar("int_str_map", map[int]string{1: "X", 2: "Y"}, "")
	require.NoError(t, err)

	require.NoError(t, v.FromString("{10: XXX, 20: YYY, 30: ZZZ}"))
	assert.Equal(t, map[int]string{10: "XXX", 20: "YYY", 30: "ZZZ"}, v.Get())

	s1, err := v.ToString()
	require.NoError(t, err)
	require.NoError(t, v.FromString(s1))
	s2, err := v.ToString()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestVarStructRoundTrip(t *testing.T) {
	type endpoint struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}

	v, err := config.NewVar("upstream", endpoint{Host: "localhost", Port: 80}, "")
	require.NoError(t, err)

	require.NoError(t, v.FromString("host: example.com\nport: 443\n"))
	assert.Equal(t, endpoint{Host: "example.com", Port: 443}, v.Get())

	s1, err := v.ToString()
	require.NoError(t, err)
	require.NoError(t, v.FromString(s1))
	s2, err := v.ToString()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestNewVarRejectsInvalidNames(t *testing.T) {
	for _, name := range []string{"", "bad name", "semi;colon", "sl/ash", "tab\tname"} {
		_, err := config.NewVar(name, 0, "")
		assert.ErrorIs(t, err, config.ErrInvalidName, "name %q", name)
	}
	for _, name := range []string{"a", "A.B_c", "0.1.2", "Sys.Log_level9"} {
		_, err := config.NewVar(name, 0, "")
		assert.NoError(t, err, "name %q", name)
	}
}

func TestVarMetadata(t *testing.T) {
	v, err := config.NewVar("pool.size", []string(nil), "worker pool sizing")
	require.NoError(t, err)
	assert.Equal(t, "pool.size", v.Name())
	assert.Equal(t, "worker pool sizing", v.Description())
	assert.Equal(t, "[]string", v.TypeName())
}
