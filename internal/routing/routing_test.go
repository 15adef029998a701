package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type homeController struct{ hits int }

type blogController struct{}

func index(name string) ActionDescriptor {
	return Action(name, func(c *homeController, ctx context.Context) (any, error) {
		c.hits++
		return name, nil
	})
}

func blogAction(name string, opts ...ActionOption) ActionDescriptor {
	return Action(name, func(c *blogController, ctx context.Context) (any, error) {
		return name, nil
	}, opts...)
}

func newHome() *homeController { return &homeController{} }
func newBlog() *blogController { return &blogController{} }

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                "/",
		"/":               "/",
		"//":              "/",
		"/Home/Index":     "/home/index",
		"home/index/":     "/home/index",
		"/home/index?x=1": "/home/index",
		"  /Blog/  ":      "/blog",
		"/a/b#frag":       "/a/b",
		"///a//":          "/a",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestDiscover_ConventionRoutes(t *testing.T) {
	table := Discover(nil, Controller("HomeController", newHome, index("Index"), index("About")))

	r, ok := table.Lookup("/home/about")
	require.True(t, ok)
	assert.Equal(t, "About", r.Action.Name)
	assert.False(t, r.Declared)

	// equivalent spellings resolve to the same route
	for _, p := range []string{"/HOME/About", "/home/about/", "home/about?q=1"} {
		got, ok := table.Lookup(p)
		require.True(t, ok, p)
		assert.Same(t, r, got)
	}
}

func TestDiscover_AreaConvention(t *testing.T) {
	table := Discover(nil, Controller("PostsController", newBlog, blogAction("List")).InArea("Admin"))

	_, ok := table.Lookup("/admin/posts/list")
	assert.True(t, ok)
	_, ok = table.Lookup("/posts/list")
	assert.False(t, ok)
}

func TestDiscover_ActionRoutesUsedVerbatim(t *testing.T) {
	table := Discover(nil, Controller("BlogController", newBlog,
		blogAction("Show", WithRoute("/articles/[action]", "/posts/latest")),
	))

	a, ok := table.Lookup("/articles/show")
	require.True(t, ok)
	b, ok := table.Lookup("/posts/latest")
	require.True(t, ok)
	assert.Same(t, a.Action, b.Action)
	assert.True(t, a.Declared)
	assert.Equal(t, 2, table.Len())

	_, ok = table.Lookup("/blog/show")
	assert.False(t, ok, "declared routes replace the convention path")
}

func TestDiscover_TypeRoutesCombine(t *testing.T) {
	ctrl := Controller("BlogController", newBlog,
		blogAction("Index"),
		blogAction("Edit", Get("edit/{id}"), Post("save")),
		blogAction("Feed", Get("/rss")),
	).WithRoutes("api/[controller]", "v2/[controller]")

	table := Discover(nil, ctrl)

	for _, p := range []string{"/api/blog/index", "/v2/blog/index", "/api/blog/edit/{id}", "/api/blog/save", "/v2/blog/save", "/rss"} {
		_, ok := table.Lookup(p)
		assert.True(t, ok, p)
	}

	r, _ := table.Lookup("/api/blog/edit/{id}")
	assert.Equal(t, []string{"GET", "POST"}, r.Verbs)
	assert.True(t, r.AllowsMethod("post"))
	assert.False(t, r.AllowsMethod("DELETE"))
}

func TestDiscover_PlaceholdersAreCaseInsensitive(t *testing.T) {
	ctrl := Controller("ReportsController", newBlog,
		blogAction("Daily", WithRoute("[Area]/[CONTROLLER]/x/[Action]")),
	).InArea("ops")

	_, ok := Discover(nil, ctrl).Lookup("/ops/reports/x/daily")
	assert.True(t, ok)
}

func TestDiscover_SkipsNonActionsAndBrokenControllers(t *testing.T) {
	broken := &ControllerDescriptor{
		Name:        "BrokenController",
		ActionsFunc: func() []ActionDescriptor { panic("cannot load") },
	}
	table := Discover(nil,
		nil,
		&ControllerDescriptor{},
		broken,
		Controller("HomeController", newHome, index("Index"), index("Secret"), ActionDescriptor{Name: "Helper", NonAction: true}),
	)

	assert.Equal(t, 2, table.Len())
	_, ok := table.Lookup("/home/helper")
	assert.False(t, ok)
}

func TestDiscover_NonActionOption(t *testing.T) {
	table := Discover(nil, Controller("BlogController", newBlog, blogAction("Index"), blogAction("Internal", NonAction())))
	_, ok := table.Lookup("/blog/internal")
	assert.False(t, ok)
}

func TestDiscover_LastRegistrationWins(t *testing.T) {
	first := Controller("HomeController", newHome, index("Index"))
	second := Controller("Home2Controller", newBlog, blogAction("Index", WithRoute("/home/index")))

	table := Discover(nil, first, second)

	r, ok := table.Lookup("/home/index")
	require.True(t, ok)
	assert.Equal(t, "Home2Controller", r.Controller.Name)

	f, ok := table.First()
	require.True(t, ok)
	assert.Same(t, r, f, "first path now belongs to the later registration")
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "Blog", (&ControllerDescriptor{Name: "BlogController"}).ShortName())
	assert.Equal(t, "Controller", (&ControllerDescriptor{Name: "Controller"}).ShortName())
	assert.Equal(t, "Blog", (&ControllerDescriptor{Name: "Blog"}).ShortName())
}

func TestAction_WrongHandlerType(t *testing.T) {
	a := index("Index")
	_, err := a.Invoke(context.Background(), &blogController{})
	assert.Error(t, err)
}
