package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/mfaure/git-as-svn/vfs/vfstest"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const authRequest = "( success ( ( ) 0: ) )"

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

// scenarioRepo builds:
//
//	r1 /trunk (with svn:ignore)
//	r2 /other
//	r3 /trunk/README, 120 bytes
//	r4 /other modified
//	r5 /trunk/lib with properties
func scenarioRepo(t *testing.T) *vfstest.Repository {
	t.Helper()
	repo := vfstest.New("7d1a5c4e-0000-5000-8000-000000000001")
	commits := []func(tx *vfstest.Txn){
		func(tx *vfstest.Txn) { tx.AddDir("/trunk", vfs.Properties{vfs.PropIgnore: "build\n"}) },
		func(tx *vfstest.Txn) { tx.AddFile("/other", "x", nil) },
		func(tx *vfstest.Txn) { tx.AddFile("/trunk/README", string(make([]byte, 120)), nil) },
		func(tx *vfstest.Txn) { tx.AddFile("/other", "y", nil) },
		func(tx *vfstest.Txn) { tx.AddDir("/trunk/lib", vfs.Properties{vfs.PropGlobalIgnore: "*.o\n"}) },
	}
	authors := []string{"alice", "bob", "alice", "bob", "carol"}
	for i, edit := range commits {
		rev, err := repo.Commit(authors[i], "commit "+string(rune('1'+i)), day(i+1), edit)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), rev)
	}
	return repo
}

type mapResolver map[string]vfs.Repository

func (m mapResolver) Open(ctx context.Context, name string) (vfs.Repository, func(), error) {
	repo, ok := m[name]
	if !ok {
		return nil, nil, errors.New("no such repository")
	}
	return repo, func() {}, nil
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *proto.Reader
	w    *proto.Writer
	hook *test.Hook
}

// dial starts HandleConn on one end of a pipe and returns a client on the
// other end, before the handshake.
func dial(t *testing.T, repos mapResolver) *testClient {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	srv := New(repos, Config{Log: logrus.NewEntry(logger)})

	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.HandleConn(ctx, server)
		close(done)
	}()
	t.Cleanup(func() {
		client.Close()
		cancel()
		<-done
	})

	return &testClient{
		t:    t,
		conn: client,
		r:    proto.NewReader(client),
		w:    proto.NewWriter(client),
		hook: hook,
	}
}

// connect dials and completes the handshake for url.
func connect(t *testing.T, repos mapResolver, url string) *testClient {
	t.Helper()
	c := dial(t, repos)
	c.read()
	c.send(proto.NewList(
		proto.NewNumber(2),
		proto.NewList(proto.NewWord("edit-pipeline"), proto.NewWord("svndiff1")),
		proto.NewString(url),
		proto.NewString("test-client"),
		proto.NewList(),
	))
	require.Equal(t, "( success ( ( ANONYMOUS ) 10:git-as-svn ) )", c.read().String())
	c.send(proto.NewList(proto.NewWord("ANONYMOUS"), proto.NewList(proto.NewString("guest"))))
	require.Equal(t, "( success ( ) )", c.read().String())
	info := c.read()
	require.Equal(t, "success", info.List[0].Word, info.String())
	return c
}

func (c *testClient) send(item proto.Item) {
	c.t.Helper()
	c.w.Item(item)
	require.NoError(c.t, c.w.Flush())
}

func (c *testClient) read() proto.Item {
	c.t.Helper()
	item, err := c.r.ReadItem()
	require.NoError(c.t, err)
	return item
}

// call sends a command, consumes the auth request and returns the reply.
func (c *testClient) call(name string, args ...proto.Item) proto.Item {
	c.t.Helper()
	c.send(proto.NewList(proto.NewWord(name), proto.NewList(args...)))
	reply := c.read()
	if reply.String() == authRequest {
		return c.read()
	}
	return reply
}

// failureCode extracts the error code of a failure reply, or -1.
func failureCode(reply proto.Item) int {
	if reply.Kind != proto.KindList || len(reply.List) != 2 || reply.List[0].Word != "failure" {
		return -1
	}
	errs := reply.List[1].List
	if len(errs) == 0 || len(errs[0].List) < 2 {
		return -1
	}
	return int(errs[0].List[0].Number)
}

func failureMessage(reply proto.Item) string {
	return string(reply.List[1].List[0].List[1].Bytes)
}

func str(s string) proto.Item { return proto.NewString(s) }

func num(n uint64) proto.Item { return proto.NewNumber(n) }

func boolean(b bool) proto.Item { return proto.NewBool(b) }

func list(items ...proto.Item) proto.Item { return proto.NewList(items...) }
