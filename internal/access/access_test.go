package access

import "testing"

func TestCanReadTruthTable(t *testing.T) {
	cases := []struct {
		name    string
		owner   string
		readers []string
		user    string
		want    bool
	}{
		{"owner reads own item", "alice", nil, "alice", true},
		{"stranger blocked", "alice", nil, "bob", false},
		{"wildcard star", "", []string{"*"}, "anyone", true},
		{"wildcard everybody", "alice", []string{"everybody"}, "bob", true},
		{"unrestricted item", "", nil, "anyone", true},
		{"unrestricted empty reader entries", "", []string{""}, "anyone", true},
		{"listed reader", "alice", []string{"bob", "carol"}, "carol", true},
		{"unlisted reader", "alice", []string{"bob"}, "dave", false},
		{"readers without owner", "", []string{"bob"}, "dave", false},
		{"anonymous on owned item", "alice", nil, "", false},
	}
	for _, c := range cases {
		if got := CanRead(c.owner, c.readers, c.user); got != c.want {
			t.Errorf("%s: CanRead(%q, %v, %q) = %v, want %v", c.name, c.owner, c.readers, c.user, got, c.want)
		}
	}
}

func TestCanReadDoesNotMutateReaders(t *testing.T) {
	readers := make([]string, 1, 4)
	readers[0] = "*"
	CanRead("", readers, "bob")
	if len(readers) != 1 {
		t.Errorf("readers mutated: %v", readers)
	}
}

func TestCanModify(t *testing.T) {
	if !CanModify("alice", "alice") {
		t.Error("owner should modify")
	}
	if CanModify("alice", "bob") {
		t.Error("non-owner should not modify")
	}
	if !CanModify("", "bob") {
		t.Error("unowned item should be modifiable")
	}
}

func TestFilter(t *testing.T) {
	type item struct {
		id      int
		owner   string
		readers []string
	}
	items := []item{
		{1, "alice", nil},
		{2, "bob", nil},
		{3, "", []string{"everybody"}},
		{4, "", nil},
	}
	got := Filter(items, "alice", func(i item) (string, []string) { return i.owner, i.readers })
	if len(got) != 3 || got[0].id != 1 || got[1].id != 3 || got[2].id != 4 {
		t.Errorf("Filter = %+v", got)
	}
}
