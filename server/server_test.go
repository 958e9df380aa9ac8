package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeting = "( success ( 2 2 ( ) ( edit-pipeline svndiff1 absent-entries depth inherited-props log-revprops ) ) )"

func sendGreeting(c *testClient, version uint64, url string) {
	c.send(list(
		num(version),
		list(proto.NewWord("edit-pipeline")),
		str(url),
		str("test-client"),
		list(),
	))
}

func requireClosed(t *testing.T, c *testClient) {
	t.Helper()
	_, err := c.r.ReadItem()
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), err)
}

func TestHandshake(t *testing.T) {
	c := dial(t, mapResolver{"demo": scenarioRepo(t)})

	assert.Equal(t, greeting, c.read().String())
	sendGreeting(c, 2, "svn://localhost/demo/trunk")
	assert.Equal(t, "( success ( ( ANONYMOUS ) 10:git-as-svn ) )", c.read().String())
	c.send(list(proto.NewWord("ANONYMOUS"), list()))
	assert.Equal(t, "( success ( ) )", c.read().String())
	assert.Equal(t,
		"( success ( 36:7d1a5c4e-0000-5000-8000-000000000001 20:svn://localhost/demo ( mergeinfo ) ) )",
		c.read().String())

	// The URL path sets the session base.
	assert.Equal(t, "( success ( file ) )", c.call("check-path", str("README"), list()).String())
}

func TestHandshakeRefused(t *testing.T) {
	tests := []struct {
		name    string
		version uint64
		url     string
		code    int
	}{
		{"bad version", 1, "svn://localhost/demo", CodeBadVersion},
		{"unknown repository", 2, "svn://localhost/nope", CodeReposNotFound},
		{"not an svn url", 2, "http://localhost/demo", CodeIllegalURL},
		{"no repository in url", 2, "svn://localhost/", CodeIllegalURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, mapResolver{"demo": scenarioRepo(t)})
			c.read()
			sendGreeting(c, tt.version, tt.url)
			reply := c.read()
			assert.Equal(t, tt.code, failureCode(reply), reply.String())
			requireClosed(t, c)
		})
	}
}

func TestHandshakeMalformedGreeting(t *testing.T) {
	c := dial(t, mapResolver{"demo": scenarioRepo(t)})
	c.read()
	c.send(list(str("two")))
	reply := c.read()
	assert.Equal(t, CodeMalformedData, failureCode(reply), reply.String())
	requireClosed(t, c)
}

func TestHandshakeUnsupportedMechanism(t *testing.T) {
	c := dial(t, mapResolver{"demo": scenarioRepo(t)})
	c.read()
	sendGreeting(c, 2, "svn://localhost/demo")
	c.read()
	c.send(list(proto.NewWord("CRAM-MD5"), list()))
	assert.Equal(t, "( failure ( 36:Unsupported authentication mechanism ) )", c.read().String())
	requireClosed(t, c)
}

func TestHandleConnStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := New(mapResolver{"demo": scenarioRepo(t)}, Config{Log: logrus.NewEntry(logger)})

	client, server := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.HandleConn(ctx, server)
		close(done)
	}()

	r := proto.NewReader(client)
	_, err := r.ReadItem()
	require.NoError(t, err)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleConn did not return after cancel")
	}
	_, err = r.ReadItem()
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	srv := New(mapResolver{"demo": scenarioRepo(t)}, Config{
		Log:         logrus.NewEntry(logger),
		AcceptRate:  100,
		AcceptBurst: 10,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	item, err := proto.NewReader(conn).ReadItem()
	require.NoError(t, err)
	assert.Equal(t, greeting, item.String())

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	var listening bool
	var commands string
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "svn server listening":
			listening = true
		case "svn commands registered":
			commands, _ = e.Data["commands"].(string)
		}
	}
	assert.True(t, listening)
	assert.Contains(t, commands, "get-dir")
}

func TestParseSvnURL(t *testing.T) {
	tests := []struct {
		raw     string
		root    string
		repo    string
		path    string
		wantErr bool
	}{
		{raw: "svn://localhost/demo", root: "svn://localhost/demo", repo: "demo", path: "/"},
		{raw: "svn://Host:3690/demo/trunk/lib/", root: "svn://host:3690/demo", repo: "demo", path: "/trunk/lib"},
		{raw: "svn+ssh://host/demo/a%20b", root: "svn+ssh://host/demo", repo: "demo", path: "/a b"},
		{raw: "http://host/demo", wantErr: true},
		{raw: "svn:///demo", wantErr: true},
		{raw: "svn://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := parseSvnURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.root, u.rootURL())
			assert.Equal(t, tt.repo, u.repo)
			assert.Equal(t, tt.path, u.path)
		})
	}
}
