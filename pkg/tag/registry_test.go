package tag

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s7runtime "s7panel/pkg/protocol/s7/runtime"
	"s7panel/pkg/runtime/constant"
)

func parse(t *testing.T, s string) s7runtime.AddressDescriptor {
	t.Helper()
	d, err := s7runtime.ParseAddress(s)
	require.NoError(t, err)
	return *d
}

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()
	tag, err := r.Add("Motor_Running", parse(t, "DB1.DBX0.0"), constant.BOOL)
	require.NoError(t, err)
	assert.Equal(t, "Motor_Running", tag.Name)
	assert.Nil(t, tag.LastValue)

	_, err = r.Add("Motor_Running", parse(t, "DB1.DBW6"), constant.INT16)
	assert.ErrorIs(t, err, ErrDuplicateName)
	got, ok := r.Get("Motor_Running")
	require.True(t, ok)
	assert.Equal(t, constant.BOOL, got.DataType())
	assert.Equal(t, 1, r.Len())

	_, err = r.Add("  ", parse(t, "DB1.DBW6"), constant.INT16)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = r.Add("Speed", parse(t, "DB1.DBW6"), constant.REAL32)
	assert.ErrorIs(t, err, ErrDataTypeMismatch)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryListOrderAndRemove(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"c", "a", "b"} {
		_, err := r.Add(n, parse(t, "DB1.DBW6"), constant.INT16)
		require.NoError(t, err)
	}
	names := func() []string {
		var out []string
		for _, tag := range r.List() {
			out = append(out, tag.Name)
		}
		return out
	}
	assert.Equal(t, []string{"c", "a", "b"}, names())

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, []string{"c", "b"}, names())

	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestRegistrySetValue(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add("Temperature", parse(t, "DB1.DBD2"), constant.REAL32)
	require.NoError(t, err)

	now := time.Now()
	changed, ok := r.SetValue("Temperature", s7runtime.Real32Value(50), now)
	assert.True(t, ok)
	assert.True(t, changed)

	changed, ok = r.SetValue("Temperature", s7runtime.Real32Value(50), now.Add(time.Second))
	assert.True(t, ok)
	assert.False(t, changed)

	changed, _ = r.SetValue("Temperature", s7runtime.Real32Value(51), now)
	assert.True(t, changed)

	_, ok = r.SetValue("Temperature", s7runtime.Int16Value(1), now)
	assert.False(t, ok)
	_, ok = r.SetValue("missing", s7runtime.Int16Value(1), now)
	assert.False(t, ok)

	tag, _ := r.Get("Temperature")
	assert.Equal(t, s7runtime.Real32Value(51), *tag.LastValue)
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add("Speed_Setpoint", parse(t, "DB1.DBW6"), constant.INT16)
	require.NoError(t, err)
	r.SetValue("Speed_Setpoint", s7runtime.Int16Value(10), time.Now())

	tag, _ := r.Get("Speed_Setpoint")
	tag.LastValue.Int16 = 99
	tag.Name = "changed"

	again, _ := r.Get("Speed_Setpoint")
	assert.Equal(t, int16(10), again.LastValue.Int16)
	assert.Equal(t, "Speed_Setpoint", again.Name)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add("Speed_Setpoint", parse(t, "DB1.DBW6"), constant.INT16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.SetValue("Speed_Setpoint", s7runtime.Int16Value(int16(j)), time.Now())
				_ = r.List()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, r.Len())
}

func TestTagJSON(t *testing.T) {
	tag := &Tag{Name: "Alarm_Active", Address: parse(t, "DB1.DBX8.0")}
	b, err := json.Marshal(tag)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alarm_Active","address":"DB1.DBX8.0","dataType":"bool","value":null}`, string(b))

	v := s7runtime.BoolValue(true)
	tag.LastValue = &v
	tag.UpdatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err = json.Marshal(tag)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alarm_Active","address":"DB1.DBX8.0","dataType":"bool","value":true,"updatedAt":"2024-01-02T03:04:05Z"}`, string(b))
}
