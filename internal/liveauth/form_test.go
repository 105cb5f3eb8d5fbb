package liveauth

import (
	"net/url"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForm_SetKeepsOrder(t *testing.T) {
	form := NewForm()
	form.Set("z", "1")
	form.Set("a", "2")
	form.Set("m", "3")
	form.Set("z", "4")

	want := []Field{{Name: "z", Value: "4"}, {Name: "a", Value: "2"}, {Name: "m", Value: "3"}}
	assert.Empty(t, cmp.Diff(want, form.Fields()))
	assert.Equal(t, 3, form.Len())

	v, ok := form.Get("z")
	require.True(t, ok)
	assert.Equal(t, "4", v)
	_, ok = form.Get("missing")
	assert.False(t, ok)
}

func TestForm_Encode(t *testing.T) {
	form := NewForm()
	form.Set("loginfmt", "user name+tag@example.com")
	form.Set("FoundMSAs", "")
	form.Set("i16", `{"a":1}`)
	form.Set("i18", "__DefaultLogin_Strings|1,__DefaultLogin_Core|1,")
	form.Set("safe", "AZaz09-_.~")

	assert.Equal(t,
		"loginfmt=user+name%2Btag%40example.com"+
			"&FoundMSAs="+
			"&i16=%7B%22a%22%3A1%7D"+
			"&i18=__DefaultLogin_Strings%7C1%2C__DefaultLogin_Core%7C1%2C"+
			"&safe=AZaz09-_.~",
		form.Encode())

	assert.Equal(t, "", NewForm().Encode())
}

func TestForm_EncodeNonASCII(t *testing.T) {
	form := NewForm()
	form.Set("passwd", "pässwörd")
	form.Set("raw", "\xff\x00")

	assert.Equal(t, "passwd=p%C3%A4ssw%C3%B6rd&raw=%FF%00", form.Encode())
}

func TestParseForm(t *testing.T) {
	form, err := ParseForm("a=1&b=x+y&a=3&c=")
	require.NoError(t, err)
	want := []Field{{Name: "a", Value: "3"}, {Name: "b", Value: "x y"}, {Name: "c", Value: ""}}
	assert.Empty(t, cmp.Diff(want, form.Fields()))

	_, err = ParseForm("a=%zz")
	assert.Error(t, err)

	empty, err := ParseForm("")
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestForm_EncodeMatchesStandardDecoding(t *testing.T) {
	form := NewForm()
	form.Set("PPFT", "Cfx!token*value$/=")
	form.Set("passwd", "p@ss w0rd&=?")

	values, err := url.ParseQuery(form.Encode())
	require.NoError(t, err)
	assert.Equal(t, "Cfx!token*value$/=", values.Get("PPFT"))
	assert.Equal(t, "p@ss w0rd&=?", values.Get("passwd"))
}

type fuzzFields struct {
	Names  []string
	Values []string
}

func FuzzForm_RoundTrip(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var in fuzzFields
		if err := consumer.GenerateStruct(&in); err != nil {
			return
		}

		form := NewForm()
		for i, name := range in.Names {
			value := ""
			if i < len(in.Values) {
				value = in.Values[i]
			}
			form.Set(name, value)
		}

		decoded, err := ParseForm(form.Encode())
		require.NoError(t, err)
		if diff := cmp.Diff(form.Fields(), decoded.Fields()); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})
}
