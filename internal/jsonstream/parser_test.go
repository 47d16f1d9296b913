package jsonstream

import (
	"reflect"
	"testing"
)

func collect(t *testing.T, chunks ...string) []Update {
	t.Helper()
	p := NewParser()
	var ups []Update
	for _, c := range chunks {
		ups = append(ups, p.Write(c)...)
	}
	ups = append(ups, p.Finish()...)
	return ups
}

func TestLeafOrder(t *testing.T) {
	got := collect(t, `{"a":"hello","b":[1,2]}`)
	want := []Update{
		{Keypath: "a", Value: "hello"},
		{Keypath: "b.0", Value: float64(1)},
		{Keypath: "b.1", Value: float64(2)},
		{Keypath: "b", Value: []any{float64(1), float64(2)}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestChunkBoundaries(t *testing.T) {
	// Same document split mid-string and mid-number must emit identically.
	whole := collect(t, `{"a":"hello","n":42}`)
	split := collect(t, `{"a":`, `"he`, `llo"`, `,"n":4`, `2}`)
	if !reflect.DeepEqual(whole, split) {
		t.Errorf("chunked parse diverged:\nwhole %v\nsplit %v", whole, split)
	}
}

func TestPartialAggregate(t *testing.T) {
	p := NewParser()
	p.Write(`{"a":`)
	p.Write(`"he`)
	if got := p.Current(); !reflect.DeepEqual(got, map[string]any{"a": "he"}) {
		t.Errorf("partial = %v, want {a: he}", got)
	}
	p.Write(`llo"}`)
	if got := p.Current(); !reflect.DeepEqual(got, map[string]any{"a": "hello"}) {
		t.Errorf("final = %v, want {a: hello}", got)
	}
}

func TestCurrentSnapshotIsIndependent(t *testing.T) {
	p := NewParser()
	p.Write(`{"a":"x","b":"y`)
	snap := p.Current()
	p.Write(`z"}`)
	if !reflect.DeepEqual(snap, map[string]any{"a": "x", "b": "y"}) {
		t.Errorf("earlier snapshot mutated: %v", snap)
	}
}

func TestEmptyContainers(t *testing.T) {
	got := collect(t, `{"a":{},"b":[]}`)
	want := []Update{
		{Keypath: "a", Value: map[string]any{}},
		{Keypath: "b", Value: []any{}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestNestedKeypaths(t *testing.T) {
	got := collect(t, `{"items":[{"name":"x"},{"name":"y"}],"ok":true}`)
	want := []Update{
		{Keypath: "items.0.name", Value: "x"},
		{Keypath: "items.1.name", Value: "y"},
		{Keypath: "items", Value: []any{
			map[string]any{"name": "x"},
			map[string]any{"name": "y"},
		}},
		{Keypath: "ok", Value: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestUnicodeEscapes(t *testing.T) {
	got := collect(t, `{"a":"é"}`)
	if got[0].Value != "é" {
		t.Errorf("basic escape = %q, want é", got[0].Value)
	}

	// Surrogate pair split across chunks.
	got = collect(t, `{"a":"\ud83d`, `\ude00"}`)
	if got[0].Value != "😀" {
		t.Errorf("surrogate pair = %q, want emoji", got[0].Value)
	}

	// Lone high surrogate is preserved as its raw escape.
	got = collect(t, `{"a":"\ud83dx"}`)
	if got[0].Value != `\ud83dx` {
		t.Errorf("lone surrogate = %q, want raw escape preserved", got[0].Value)
	}
}

func TestInvalidEscapePreserved(t *testing.T) {
	got := collect(t, `{"a":"bad\qescape"}`)
	if got[0].Value != `bad\qescape` {
		t.Errorf("value = %q, want invalid escape preserved", got[0].Value)
	}
}

func TestMalformedCloseQuoteTreatedAsEscaped(t *testing.T) {
	got := collect(t, `{"a":"say "hi" now"}`)
	want := `say "hi" now`
	if len(got) == 0 || got[0].Value != want {
		t.Errorf("value = %v, want %q", got, want)
	}
}

func TestJunkOutsideStringsIgnored(t *testing.T) {
	got := collect(t, "```json\n{\"a\": 1}\n```")
	want := []Update{{Keypath: "a", Value: float64(1)}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestTruncatedDocument(t *testing.T) {
	// A prefix of a document still yields the leaves it completed plus the
	// pending string at Finish.
	got := collect(t, `{"a":"done","b":"par`)
	want := []Update{
		{Keypath: "a", Value: "done"},
		{Keypath: "b", Value: "par"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestScalars(t *testing.T) {
	got := collect(t, `{"t":true,"f":false,"z":null,"neg":-1.5}`)
	want := []Update{
		{Keypath: "t", Value: true},
		{Keypath: "f", Value: false},
		{Keypath: "z", Value: nil},
		{Keypath: "neg", Value: -1.5},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}

func TestEmptyNestedArray(t *testing.T) {
	got := collect(t, `{"a":[[1],[]]}`)
	want := []Update{
		{Keypath: "a.0.0", Value: float64(1)},
		{Keypath: "a.0", Value: []any{float64(1)}},
		{Keypath: "a.1", Value: []any{}},
		{Keypath: "a", Value: []any{[]any{float64(1)}, []any{}}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("updates mismatch:\nwant %v\ngot  %v", want, got)
	}
}
