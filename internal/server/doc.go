// Package server is a local stand-in for the two remote collaborators of a
// chat session: the streaming generation endpoint and the message-store
// service. Generation replies are either scripted (status codes, chunk
// boundaries, delays) or echoed back word by word.
//
// Routes:
//
//	GET    /health
//	POST   /api/generate                                  streaming generation
//	GET    /api/sessions                                  list sessions
//	POST   /api/sessions                                  create a session
//	GET    /api/sessions/{sessionID}                      get a session
//	DELETE /api/sessions/{sessionID}                      end a session, drop its messages
//	GET    /api/sessions/{sessionID}/messages             list messages, oldest first
//	POST   /api/sessions/{sessionID}/messages             add a message
//	PATCH  /api/sessions/{sessionID}/messages/{messageID} replace content
//	DELETE /api/sessions/{sessionID}/messages/{messageID} delete a message
//	GET    /api/events                                    message-store changes as SSE
//
// Generation replies are text/event-stream bodies of newline-delimited
// `data: {"content":"..."}` frames. Tests queue exact replies through
// Server.Script:
//
//	srv.Script().Enqueue(
//		server.Reply{Status: 429},
//		server.Reply{Chunks: server.Frames("Hi", " there", "!")},
//	)
package server
