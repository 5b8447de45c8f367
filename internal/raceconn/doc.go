/*
Package raceconn implements the synchronized-send connection.

A Conn owns one TCP socket (optionally TLS-wrapped) and one HTTP/1.1
exchange. The send is split at the final few "tail" bytes: everything
before the tail goes out immediately, then the connection arrives at
the shared ready barrier and blocks. When the driver opens release,
the tail is flushed and the response is read. Because the tail always
covers either the end of the body (Content-Length framing) or the end
of the header terminator, the server can never act on the request
before release.

State machine:

	init -> connected -> headers_sent -> body_pending -> ready
	     -> released -> response_headers -> response_body -> done

Response parsing rides on fasthttp; the request side is serialized by
this package so the raced bytes and the one-shot reference bytes come
from the same code.
*/
package raceconn
