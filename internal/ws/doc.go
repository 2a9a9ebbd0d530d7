// Package ws streams page stats over WebSocket.
//
// GET /pages/:id/stream upgrades to a socket bound to one page. The server
// sends an updateStats message on connect and after every annotation pass.
// The client may send the same commands accepted by
// POST /pages/:id/commands.
//
// Messages (client → server):
//   - {"action":"toggleEnabled","enabled":false}
//   - {"action":"updateYear","year":1995}
//   - {"action":"toggleSwapDisplay","enabled":true}
//   - {"action":"getStats"}
//
// Messages (server → client):
//   - {"action":"updateStats","pageId":"page_...","stats":{...}}
//   - {"action":"error","pageId":"page_...","error":"..."}
//
// The socket is closed with CloseGoingAway when the page is closed.
package ws
