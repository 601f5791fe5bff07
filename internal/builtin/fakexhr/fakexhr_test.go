package fakexhr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/js-test-helpers/internal/testutil"
)

const prelude = `
var log = [];
var a = require('jth:async');
var x = require('jth:xhr');
var setupAsync = a.setupAsync, andThen = a.andThen;
var startFakingXhr = x.startFakingXhr, stopFakingXhr = x.stopFakingXhr,
	findXhr = x.findXhr, waitUntilXhrExists = x.waitUntilXhrExists;
function NativeXHR() {}
var XMLHttpRequest = NativeXHR;

function sendRequest(method, url, body) {
	var request = new XMLHttpRequest();
	request.open(method, url);
	request.send(body);
	return request;
}
`

func newHarness(t *testing.T, opts ...testutil.HarnessOption) (*testutil.Harness, *Faker) {
	t.Helper()
	h := testutil.NewHarness(t, opts...)
	f := New(h.Engine, nil)
	h.Register("jth:xhr", Require(f))
	return h, f
}

func TestFindXhr(t *testing.T) {
	t.Parallel()
	h, _ := newHarness(t)
	rep := h.Run(t, prelude+`
		describe('findXhr', function() {
			it('throws if faking is not started', function() {
				try { findXhr('POST', 'whatever/endpoint'); } catch (e) { log.push(e.message); }
			});
			it('throws if faking is stopped', function() {
				startFakingXhr();
				stopFakingXhr();
				try { findXhr('POST', 'whatever/endpoint'); } catch (e) { log.push(e.message); }
				log.push(XMLHttpRequest === NativeXHR);
			});
			it('returns null if no such request could be found', function() {
				startFakingXhr();
				log.push(findXhr('POST', 'whatever/endpoint'));
				stopFakingXhr();
			});
			it('returns a request that matches', function() {
				startFakingXhr();
				log.push(XMLHttpRequest !== NativeXHR);
				var sent = sendRequest('POST', 'some/endpoint');
				log.push(findXhr('post', 'some/endpoint') === sent);
				log.push(findXhr('POST', 'some/endpoint/') === null);
				stopFakingXhr();
			});
			it('does not match a request that is already responded to', function() {
				startFakingXhr();
				var sent = sendRequest('POST', 'some/endpoint');
				sent.respondWithJson(200, {});
				log.push(sent.readyState, findXhr('POST', 'some/endpoint'));
				stopFakingXhr();
			});
			it('prefers the newest and filters by body', function() {
				startFakingXhr();
				var first = sendRequest('POST', '/items', 'one');
				var second = sendRequest('POST', '/items', 'two');
				log.push(findXhr('POST', '/items') === second);
				log.push(findXhr('POST', '/items', 'one') === first);
				log.push(findXhr('POST', '/items', 'three'));
				stopFakingXhr();
			});
			it('stop requires start', function() {
				try { stopFakingXhr(); } catch (e) { log.push(e.message); }
			});
		});
	`)
	require.True(t, rep.OK(), "%v", testutil.Failures(rep))
	assert.Equal(t, []any{
		"findXhr can only be used between calls to startFakingXhr and stopFakingXhr!",
		"findXhr can only be used between calls to startFakingXhr and stopFakingXhr!",
		true,
		nil,
		true, true, true,
		int64(4), nil,
		true, true, nil,
		"stopFakingXhr can only be used after call to startFakingXhr!",
	}, h.Global(t, "log"))
}

func TestWaitUntilXhrExists(t *testing.T) {
	t.Parallel()
	h, _ := newHarness(t)
	rep := h.Run(t, prelude+`
		describe('waitUntilXhrExists', function() {
			setupAsync();
			beforeEach(startFakingXhr);
			afterEach(stopFakingXhr);

			it('resolves when the request is found', function() {
				waitUntilXhrExists('POST', '/some/endpoint/path');
				andThen(function(request) {
					log.push(request === findXhr('POST', '/some/endpoint/path'));
					request.respondWithJson(201, { ok: true });
					log.push(request.status, request.responseText);
				});
				setTimeout(function() {
					sendRequest('POST', '/some/endpoint/path');
				}, 30);
			});
		});
	`)
	require.True(t, rep.OK(), "%v", testutil.Failures(rep))
	assert.Equal(t, []any{true, int64(201), `{"ok":true}`}, h.Global(t, "log"))
}

func TestWaitUntilXhrExists_Timeout(t *testing.T) {
	t.Parallel()
	h, _ := newHarness(t, testutil.WithTestTimeout(100*time.Millisecond))
	rep := h.Run(t, prelude+`
		describe('waitUntilXhrExists', function() {
			setupAsync();
			beforeEach(startFakingXhr);
			afterEach(stopFakingXhr);

			it('times out', function() {
				sendRequest('GET', '/a');
				sendRequest('GET', '/a');
				sendRequest('delete', '/b');
				sendRequest('GET', '/done').respond(204);
				waitUntilXhrExists('POST', '/wanted');
			});
		});
	`)
	require.False(t, rep.OK())
	err := testutil.TestErr(t, rep, "times out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XHR not found: 'POST /wanted'. Active requests are:\nGET /a\ndelete /b")
	assert.NotContains(t, err.Error(), "/done")
}

func TestRequestObject(t *testing.T) {
	t.Parallel()
	h, _ := newHarness(t)
	rep := h.Run(t, prelude+`
		describe('request object', function() {
			beforeEach(startFakingXhr);
			afterEach(stopFakingXhr);

			it('responds manually with status code and headers', function() {
				var request = sendRequest('GET', '/some/endpoint');
				var events = [];
				request.onreadystatechange = function() { events.push(request.readyState); };
				request.onload = function() { events.push('load'); };
				request.respond(200, { 'Some-Header': 'some-header-value' }, JSON.stringify({ someBodyKey: 'someBodyValue' }));
				log.push(request.readyState, request.status, request.statusText);
				log.push(JSON.stringify(request.responseHeaders));
				log.push(request.getResponseHeader('some-header'));
				log.push(JSON.parse(request.responseText).someBodyKey);
				log.push(events.join(','));
			});

			it('responds with JSON', function() {
				var request = sendRequest('GET', '/some/endpoint');
				request.respondWithJson(200, { someBodyKey: 'someBodyValue' });
				log.push(request.readyState, request.status, JSON.stringify(request.responseHeaders), request.responseText);
			});

			it('defaults the status to 200', function() {
				var request = sendRequest('GET', '/some/endpoint');
				request.respondWithJson({ someBodyKey: 'someBodyValue' });
				log.push(request.status, request.responseText);
			});

			it('sends a bare status', function() {
				var request = sendRequest('GET', '/some/endpoint');
				request.respondWithJson(404);
				log.push(request.status, request.responseText);
			});

			it('records request details', function() {
				var request = new XMLHttpRequest();
				request.open('PUT', '/things/1');
				request.setRequestHeader('Content-Type', 'application/json');
				request.send('{"a":1}');
				log.push(request.method, request.url, request.requestBody, request.requestHeaders['Content-Type']);
			});

			it('cannot respond twice', function() {
				var request = sendRequest('GET', '/x');
				request.respond(200);
				try { request.respond(200); } catch (e) { log.push(String(e).indexOf('InvalidStateError') >= 0); }
			});

			it('rethrows handler exceptions', function() {
				var request = sendRequest('GET', '/x');
				request.onload = function() { throw new Error('handler failed'); };
				try { request.respondWithJson({}); } catch (e) { log.push(e.message); }
			});
		});
	`)
	require.True(t, rep.OK(), "%v", testutil.Failures(rep))
	assert.Equal(t, []any{
		int64(4), int64(200), "OK",
		`{"Some-Header":"some-header-value"}`,
		"some-header-value",
		"someBodyValue",
		"2,3,4,load",
		int64(4), int64(200), `{"Content-Type":"application/json"}`, `{"someBodyKey":"someBodyValue"}`,
		int64(200), `{"someBodyKey":"someBodyValue"}`,
		int64(404), "{}",
		"PUT", "/things/1", `{"a":1}`, "application/json",
		true,
		"handler failed",
	}, h.Global(t, "log"))
}
