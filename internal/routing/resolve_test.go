package routing

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvePath(t *testing.T, table *Table, p string) *Route {
	t.Helper()
	r, err := Resolve(p, table, nil)
	require.NoError(t, err, p)
	return r
}

func TestResolve_RootPrefersHomeIndex(t *testing.T) {
	table := Discover(nil,
		Controller("BlogController", newBlog, blogAction("Index")),
		Controller("HomeController", newHome, index("Index")),
	)
	r := resolvePath(t, table, "/")
	assert.Equal(t, "HomeController", r.Controller.Name)
}

func TestResolve_RootFallsBackToFirstRoute(t *testing.T) {
	table := Discover(nil,
		Controller("BlogController", newBlog, blogAction("Latest"), blogAction("Index")),
		Controller("NewsController", newBlog, blogAction("Index")),
	)
	r := resolvePath(t, table, "/")
	assert.Equal(t, "/blog/latest", r.Path)
}

func TestResolve_EmptyTable(t *testing.T) {
	_, err := Resolve("/", Discover(nil), nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "/", nf.Path)
}

func TestResolve_BareController(t *testing.T) {
	table := Discover(nil, Controller("BlogController", newBlog, blogAction("Index"), blogAction("Show")))

	want, _ := table.Lookup("/blog/index")
	assert.Same(t, want, resolvePath(t, table, "/blog"))
	assert.Same(t, want, resolvePath(t, table, "/Blog/"))
}

func TestResolve_AreaQualifiedDefault(t *testing.T) {
	table := Discover(nil, Controller("PostsController", newBlog, blogAction("Index")).InArea("admin"))

	want, _ := table.Lookup("/admin/posts/index")
	assert.Same(t, want, resolvePath(t, table, "/admin/posts"))
	assert.Same(t, want, resolvePath(t, table, "/admin/posts/unknown"))
}

func TestResolve_NotFoundEchoesPath(t *testing.T) {
	table := Discover(nil, Controller("BlogController", newBlog, blogAction("Index")))
	_, err := Resolve("/Missing/Thing?x=1", table, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/Missing/Thing?x=1")
}

func TestResolve_CustomResolverOrder(t *testing.T) {
	table := Discover(nil, Controller("HomeController", newHome, index("Index")))
	_, err := Resolve("/home", table, []Resolver{ResolveExact})
	assert.Error(t, err)
}

// Convention routes round-trip: every registered action is reachable at
// /{controller}/{action} under any casing or trailing decoration.
func TestConventionRoutingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("convention path resolves to its action", prop.ForAll(
		func(ctrl, action string, upper bool, suffix string) bool {
			table := Discover(nil, Controller(ctrl+"Controller", newBlog, blogAction(action)))

			p := "/" + ctrl + "/" + action
			if upper {
				p = strings.ToUpper(p)
			}
			r, err := Resolve(p+suffix, table, nil)
			if err != nil {
				return false
			}
			return r.Action.Name == action && r.Controller.ShortName() == ctrl
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Bool(),
		gen.OneConstOf("", "/", "?page=2", "/?a=b", "#top"),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(s string) bool {
			n := Normalize(s)
			return Normalize(n) == n && strings.HasPrefix(n, "/")
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
