package normalize

import "testing"

func TestURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"mixed case with scheme", "https://MyCluster.Kusto.Windows.Net", "https://mycluster.kusto.windows.net"},
		{"trailing slash", "https://mycluster.kusto.windows.net/", "https://mycluster.kusto.windows.net"},
		{"bare host", "mycluster.kusto.windows.net", "https://mycluster.kusto.windows.net"},
		{"surrounding whitespace", "  https://mycluster.kusto.windows.net  ", "https://mycluster.kusto.windows.net"},
		{"http preserved", "http://x", "http://x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := URL(tc.in); got != tc.want {
				t.Errorf("URL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestURL_Idempotent(t *testing.T) {
	inputs := []string{
		"https://MyCluster.Kusto.Windows.Net",
		"mycluster.kusto.windows.net",
		"  http://X.EXAMPLE/  ",
		"https://already.normal",
	}
	for _, in := range inputs {
		once := URL(in)
		twice := URL(once)
		if once != twice {
			t.Errorf("URL not idempotent for %q: URL(x)=%q, URL(URL(x))=%q", in, once, twice)
		}
	}
}
