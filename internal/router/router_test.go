package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"councilboard/internal/services"
	"councilboard/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	campusID = 9
	cursusID = 21
)

type testApp struct {
	engine   *gin.Engine
	provider *testutil.FakeProvider
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := testutil.SetupTestDB(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	provider := testutil.NewFakeProvider(t)
	log := zap.NewNop()

	issues := services.NewIssueService(gdb)
	issueLimiter := services.NewMemoryLimiter(services.RateLimit{Points: 2, Duration: time.Hour})
	commentLimiter := services.NewMemoryLimiter(services.RateLimit{Points: 5, Duration: time.Minute})
	t.Cleanup(issueLimiter.Close)
	t.Cleanup(commentLimiter.Close)

	engine := New(Deps{
		Log:           log,
		SessionSecret: "0123456789abcdef0123456789abcdef",
		Sessions:      services.NewSessionService(gdb, log, 24*time.Hour),
		Identity: services.NewIdentityGateway(services.IdentityConfig{
			ClientID:     "client",
			ClientSecret: "secret",
			AuthURL:      provider.AuthURL(),
			TokenURL:     provider.TokenURL(),
			APIURL:       provider.APIURL(),
			RedirectURL:  "http://localhost/auth/42/callback",
			CampusID:     campusID,
			CursusID:     cursusID,
		}),
		States:         services.NewMemoryStateStore(),
		Issues:         issues,
		Polls:          services.NewPollService(gdb),
		Council:        services.NewCouncilService(gdb, "admin"),
		Votes:          services.NewVoteLedger(gdb),
		IssueLimiter:   issueLimiter,
		CommentLimiter: commentLimiter,
		Notifier:       services.NewNotifier(services.NotifierConfig{}, issues, log),
		Ping:           sqlDB.PingContext,
	})

	return &testApp{engine: engine, provider: provider}
}

// client keeps the session cookie between requests like a browser would.
type client struct {
	app     *testApp
	cookies map[string]*http.Cookie
}

func (a *testApp) anonymous() *client {
	return &client{app: a, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	w := httptest.NewRecorder()
	c.app.engine.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return w
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(http.MethodGet, target, nil)
}

func (c *client) post(target string, form url.Values) *httptest.ResponseRecorder {
	return c.do(http.MethodPost, target, form)
}

// signIn runs the OAuth round trip for login and returns the callback response.
func (c *client) signIn(t *testing.T, code, redirectTo string) *httptest.ResponseRecorder {
	t.Helper()
	w := c.get("/auth/42?redirectTo=" + url.QueryEscape(redirectTo))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), c.app.provider.AuthURL()))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	return c.get("/auth/42/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state))
}

func (a *testApp) student(t *testing.T, login string) *client {
	t.Helper()
	a.provider.AddStudent("code-"+login, login, campusID, cursusID)
	c := a.anonymous()
	w := c.signIn(t, "code-"+login, "/issues")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/issues", w.Header().Get("Location"))
	require.NotEmpty(t, c.cookies[CookieName], "signed-in client carries the session cookie")
	return c
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func createIssue(t *testing.T, c *client) uint {
	t.Helper()
	w := c.post("/issues", url.Values{
		"title":       {"Broken heating"},
		"description": {"The heating in cluster 2 has been off all week."},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct{ ID uint }
	decode(t, w, &res)
	return res.ID
}

func TestHealthz(t *testing.T) {
	app := setupApp(t)
	w := app.anonymous().get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSignInFlow(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")

	w := alice.get("/me")
	require.Equal(t, http.StatusOK, w.Code)
	var me services.SessionData
	decode(t, w, &me)
	assert.Equal(t, "alice", me.Login)
	assert.EqualValues(t, "USER", me.Role)

	w = alice.get("/signin?redirectTo=/polls")
	assert.Equal(t, http.StatusFound, w.Code, "signed-in users skip the sign-in page")
	assert.Equal(t, "/polls", w.Header().Get("Location"))

	w = alice.post("/signout", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = alice.get("/me")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/signin?redirectTo=%2Fme", w.Header().Get("Location"))
}

func TestSignInRejections(t *testing.T) {
	app := setupApp(t)
	app.provider.AddStudent("code-visitor", "visitor", campusID+1, cursusID)

	c := app.anonymous()
	w := c.signIn(t, "code-visitor", "/issues")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/signin?wrongCampus&redirectTo=%2Fissues", w.Header().Get("Location"))
	assert.Empty(t, c.cookies, "no session for rejected users")

	w = c.get("/auth/42/callback?code=code-visitor&state=forged")
	assert.Equal(t, "/signin?oauthFailed&redirectTo=%2F", w.Header().Get("Location"))

	w = c.get("/auth/42/callback?error=access_denied&state=forged")
	assert.Equal(t, "/signin?oauthDenied&redirectTo=%2F", w.Header().Get("Location"))

	w = c.get("/signin?wrongCampus&redirectTo=%2Fissues")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		LoginURL   string   `json:"loginUrl"`
		Warnings   []string `json:"warnings"`
		RedirectTo string   `json:"redirectTo"`
	}
	decode(t, w, &page)
	assert.Equal(t, []string{"wrongCampus"}, page.Warnings)
	assert.Equal(t, "/issues", page.RedirectTo)
	assert.Equal(t, "/auth/42?redirectTo=%2Fissues", page.LoginURL)

	w = c.get("/signin?redirectTo=https://evil.example.com")
	decode(t, w, &page)
	assert.Equal(t, "/", page.RedirectTo)
}

func TestAnonymousIsRedirected(t *testing.T) {
	app := setupApp(t)
	c := app.anonymous()

	w := c.get("/issues/3")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/signin?redirectTo=%2Fissues%2F3", w.Header().Get("Location"))

	w = c.post("/issues", url.Values{"title": {"Broken heating"}})
	assert.Equal(t, http.StatusFound, w.Code)

	w = c.get("/council")
	assert.Equal(t, http.StatusOK, w.Code, "the council roster is public")
}

func TestIssueCreationIsRateLimited(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")

	createIssue(t, alice)
	createIssue(t, alice)

	w := alice.post("/issues", url.Values{
		"title":       {"Third issue"},
		"description": {"This one should be refused by the limiter."},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var list struct{ Issues []struct{ Title string } }
	decode(t, alice.get("/issues"), &list)
	require.Len(t, list.Issues, 2, "a refused request creates nothing")
	for _, issue := range list.Issues {
		assert.NotEqual(t, "Third issue", issue.Title)
	}

	bob := app.student(t, "bob")
	createIssue(t, bob)
}

func TestInvalidIssuesDoNotSpendBudget(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")

	invalid := []url.Values{
		{"title": {"Hey"}, "description": {"short"}},
		// Long enough for form binding, too short once trimmed.
		{"title": {"   Hey   "}, "description": {"The heating in cluster 2 has been off all week."}},
	}
	for _, form := range invalid {
		w := alice.post("/issues", form)
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	}

	createIssue(t, alice)
	createIssue(t, alice)

	w := alice.post("/issues", url.Values{
		"title":       {"Third issue"},
		"description": {"This one should be refused by the limiter."},
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCommentLimitIsPerIssue(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")
	bob := app.student(t, "bob")
	first := fmt.Sprintf("/issues/%d", createIssue(t, alice))
	second := fmt.Sprintf("/issues/%d", createIssue(t, alice))

	comment := func(c *client, target string, n int) *httptest.ResponseRecorder {
		return c.post(target, url.Values{"_action": {"post-comment"}, "comment": {fmt.Sprintf("Me too, take %d", n)}})
	}

	for i := 1; i <= 5; i++ {
		w := comment(alice, first, i)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := comment(alice, first, 6)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var detail struct {
		CommentCount int64 `json:"commentCount"`
	}
	decode(t, alice.get(first), &detail)
	assert.Equal(t, int64(5), detail.CommentCount, "the refused comment was not stored")

	w = comment(alice, second, 1)
	assert.Equal(t, http.StatusCreated, w.Code, "each issue has its own budget")

	w = comment(bob, first, 1)
	assert.Equal(t, http.StatusCreated, w.Code, "each user has their own budget")

	// Whitespace padding does not sneak a short comment past the limiter.
	w = bob.post(second, url.Values{"_action": {"post-comment"}, "comment": {"  a  "}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueValidation(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")

	w := alice.post("/issues", url.Values{"title": {"Hey"}, "description": {"short"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var res struct{ Errors map[string]string }
	decode(t, w, &res)
	assert.Contains(t, res.Errors, "title")
	assert.Contains(t, res.Errors, "description")
}

func TestIssueVotesAndComments(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")
	carol := app.student(t, "carol")
	id := createIssue(t, alice)
	target := fmt.Sprintf("/issues/%d", id)

	var vote services.VoteResult
	w := carol.post(target, url.Values{"_action": {"vote"}})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &vote)
	assert.Equal(t, services.VoteResult{Added: true, Count: 1}, vote)

	w = alice.post(target, url.Values{"_action": {"vote"}})
	decode(t, w, &vote)
	assert.Equal(t, services.VoteResult{Added: true, Count: 2}, vote)

	w = carol.post(target, url.Values{"_action": {"vote"}})
	decode(t, w, &vote)
	assert.Equal(t, services.VoteResult{Added: false, Count: 1}, vote)

	w = carol.post(target, url.Values{"_action": {"post-comment"}, "comment": {"Same on **my** floor"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var comment struct{ ID uint }
	decode(t, w, &comment)

	w = alice.post(target, url.Values{"_action": {"commentVote"}, "commentId": {fmt.Sprint(comment.ID)}})
	require.Equal(t, http.StatusOK, w.Code)

	w = carol.get(target)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Votes        int64
		HasVoted     bool
		CommentCount int64 `json:"commentCount"`
		Comments     []struct {
			Text     string
			TextHTML string `json:"textHtml"`
			Votes    int64
			HasVoted bool
		}
	}
	decode(t, w, &detail)
	assert.Equal(t, int64(1), detail.Votes)
	assert.False(t, detail.HasVoted)
	assert.Equal(t, int64(1), detail.CommentCount)
	require.Len(t, detail.Comments, 1)
	assert.Contains(t, detail.Comments[0].TextHTML, "<strong>my</strong>")
	assert.Equal(t, int64(1), detail.Comments[0].Votes)
	assert.False(t, detail.Comments[0].HasVoted)

	w = carol.get("/issues?sort=hot")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Issues []struct{ ID uint }
		Sort   string
	}
	decode(t, w, &list)
	assert.Equal(t, "hot", list.Sort)
	require.Len(t, list.Issues, 1)
	assert.Equal(t, id, list.Issues[0].ID)
}

func TestOfficialStatementsNeedAdmin(t *testing.T) {
	app := setupApp(t)
	bob := app.student(t, "bob")
	admin := app.student(t, "admin")
	id := createIssue(t, bob)
	target := fmt.Sprintf("/issues/%d", id)

	form := url.Values{"_action": {"post-comment"}, "comment": {"We are on it."}, "official_statement": {"on"}}

	w := bob.post(target, form)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = admin.post(target, form)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct{ Official bool }
	decode(t, w, &res)
	assert.True(t, res.Official)
}

func TestArchiveLifecycle(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")
	admin := app.student(t, "admin")
	id := createIssue(t, alice)
	target := fmt.Sprintf("/issues/%d", id)

	w := alice.post(target, url.Values{"_action": {"archive"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = admin.post(target, url.Values{"_action": {"archive"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%d,"archived":true}`, id), w.Body.String())

	w = alice.post(target, url.Values{"_action": {"vote"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = alice.post(target, url.Values{"_action": {"post-comment"}, "comment": {"Still broken"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var list struct{ Issues []struct{ ID uint } }
	decode(t, alice.get("/issues"), &list)
	assert.Empty(t, list.Issues)
	decode(t, alice.get("/issues?archived=true"), &list)
	assert.Len(t, list.Issues, 1)

	w = admin.post(target, url.Values{"_action": {"unarchive"}})
	require.Equal(t, http.StatusOK, w.Code)
	w = alice.post(target, url.Values{"_action": {"vote"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownActionAndMissingIssue(t *testing.T) {
	app := setupApp(t)
	alice := app.student(t, "alice")
	id := createIssue(t, alice)

	w := alice.post(fmt.Sprintf("/issues/%d", id), url.Values{"_action": {"explode"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var res struct{ Errors map[string]string }
	decode(t, w, &res)
	assert.Contains(t, res.Errors, "_action")

	w = alice.post("/issues/9999", url.Values{"_action": {"vote"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = alice.get("/issues/not-a-number")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCouncilManagement(t *testing.T) {
	app := setupApp(t)
	admin := app.student(t, "admin")
	dana := app.student(t, "dana")

	member := url.Values{
		"_action":   {"add-member"},
		"login":     {"dana"},
		"firstName": {"Dana"},
		"lastName":  {"Scully"},
		"email":     {"dana@example.com"},
	}

	w := dana.post("/council", member)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = admin.post("/council", member)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = admin.post("/council", url.Values{"_action": {"add-member"}, "login": {"x"}, "firstName": {"X"}, "lastName": {"Y"}, "email": {"nope"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var verr struct{ Errors map[string]string }
	decode(t, w, &verr)
	assert.Contains(t, verr.Errors, "email")

	// The promotion applies to dana's existing session.
	id := createIssue(t, admin)
	w = dana.post(fmt.Sprintf("/issues/%d", id), url.Values{"_action": {"archive"}})
	assert.Equal(t, http.StatusOK, w.Code)

	var roster struct {
		Members []struct{ Login string }
	}
	decode(t, app.anonymous().get("/council"), &roster)
	require.Len(t, roster.Members, 1)
	assert.Equal(t, "dana", roster.Members[0].Login)

	w = admin.post("/council", url.Values{"_action": {"remove-member"}, "login": {"dana"}})
	require.Equal(t, http.StatusOK, w.Code)
	w = dana.post(fmt.Sprintf("/issues/%d", id), url.Values{"_action": {"unarchive"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = admin.post("/council", url.Values{"_action": {"remove-member"}, "login": {"dana"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolls(t *testing.T) {
	app := setupApp(t)
	admin := app.student(t, "admin")
	alice := app.student(t, "alice")

	form := url.Values{
		"title":   {"Lunch menu"},
		"options": {"Pizza", "Sushi"},
	}
	w := alice.post("/polls", form)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = admin.post("/polls", url.Values{"title": {"Lunch menu"}, "options": {"Pizza"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin.post("/polls", form)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct{ ID uint }
	decode(t, w, &created)
	target := fmt.Sprintf("/polls/%d", created.ID)

	w = alice.post(target, url.Values{"_action": {"add-option"}, "option": {"Tacos"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = alice.post(target, url.Values{"_action": {"add-option"}, "option": {"tacos"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var poll struct {
		Options []struct {
			ID       uint
			Text     string
			Votes    int64
			HasVoted bool
		}
	}
	decode(t, alice.get(target), &poll)
	require.Len(t, poll.Options, 3)

	for _, o := range poll.Options[:2] {
		w = alice.post(target, url.Values{"_action": {"optionVote"}, "optionId": {fmt.Sprint(o.ID)}})
		require.Equal(t, http.StatusOK, w.Code)
	}

	decode(t, alice.get(target), &poll)
	assert.Equal(t, int64(1), poll.Options[0].Votes)
	assert.True(t, poll.Options[0].HasVoted)
	assert.Equal(t, int64(1), poll.Options[1].Votes)
	assert.Equal(t, int64(0), poll.Options[2].Votes)

	w = alice.post(target, url.Values{"_action": {"archive"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = admin.post(target, url.Values{"_action": {"archive"}})
	require.Equal(t, http.StatusOK, w.Code)
	w = alice.post(target, url.Values{"_action": {"optionVote"}, "optionId": {fmt.Sprint(poll.Options[2].ID)}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
