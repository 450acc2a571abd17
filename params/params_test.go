package params

import "testing"

func TestIter(t *testing.T) {
	cases := []struct {
		in   string
		want []Pair
	}{
		{"", nil},
		{"a=b", []Pair{{"a", "b"}}},
		{"a=b;c=d", []Pair{{"a", "b"}, {"c", "d"}}},
		{"a=b;c=d|e;f=g", []Pair{{"a", "b"}, {"c", "d|e"}, {"f", "g"}}},
		{"noval;a=b", []Pair{{"noval", ""}, {"a", "b"}}},
		{"a=b;;c=d", []Pair{{"a", "b"}, {"c", "d"}}},
	}
	for _, c := range cases {
		got := Iter(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("Iter(%q) = %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("Iter(%q)[%d] = %v, want %v", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestGet(t *testing.T) {
	v, ok := Get("a=b;c=d", "c")
	if !ok || v != "d" {
		t.Fatalf("Get = %q, %v, want d, true", v, ok)
	}
	if _, ok := Get("a=b", "missing"); ok {
		t.Fatalf("Get found missing key")
	}
}

func TestValues(t *testing.T) {
	got := Values("_sn=10|20|30", "_sn")
	want := []string{"10", "20", "30"}
	if len(got) != len(want) {
		t.Fatalf("Values = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("Values[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if Values("a=b", "missing") != nil {
		t.Fatalf("Values for missing key should be nil")
	}
}

func TestInsertRemove(t *testing.T) {
	s, prev, found := Insert("a=b", "c", "d")
	if found {
		t.Fatalf("Insert reported found for new key")
	}
	if s != "a=b;c=d" {
		t.Fatalf("Insert = %q, want a=b;c=d", s)
	}

	s2, prev2, found2 := Insert(s, "a", "z")
	if !found2 || prev2 != "b" {
		t.Fatalf("Insert replace = %q, %v, want b, true", prev2, found2)
	}
	if s2 != "c=d;a=z" {
		t.Fatalf("Insert replace = %q, want c=d;a=z", s2)
	}
	_ = prev

	s3, removed, found3 := Remove(s2, "c")
	if !found3 || removed != "d" {
		t.Fatalf("Remove = %q %v, want d true", removed, found3)
	}
	if s3 != "a=z" {
		t.Fatalf("Remove = %q, want a=z", s3)
	}
}

func TestFromIterSortsCanonically(t *testing.T) {
	got := FromIter([]Pair{{"c", "1"}, {"a", "2"}, {"b", "3"}})
	want := "a=2;b=3;c=1"
	if got != want {
		t.Fatalf("FromIter = %q, want %q", got, want)
	}
}

func TestIsSorted(t *testing.T) {
	if !IsSorted("a=1;b=2;c=3") {
		t.Fatalf("expected sorted")
	}
	if IsSorted("b=2;a=1") {
		t.Fatalf("expected unsorted")
	}
}

func TestConcatRoundTrip(t *testing.T) {
	original := "z=1;a=2;m=3"
	pairs := Iter(original)
	if got := Concat(pairs); got != original {
		t.Fatalf("Concat(Iter(s)) = %q, want %q", got, original)
	}
}
