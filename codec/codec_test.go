package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type payload struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func TestJSONRoundTrip(t *testing.T) {
	in := payload{Title: "doc", Tags: []string{"a", "b"}}

	data, err := JSON{}.Marshal(in)
	assert.NoError(t, err)

	var out payload
	assert.NoError(t, JSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	assert.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("gob")
	assert.False(t, ok)
}

func TestMustMarshal(t *testing.T) {
	data := MustMarshal(nil, map[string]int{"a": 1})
	assert.JSONEq(t, `{"a":1}`, string(data))

	assert.Panics(t, func() {
		MustMarshal(JSON{}, make(chan int))
	})
}
