package server

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/AltairaLabs/VoiceRelay/runtime/logger"
)

// twimlResponse is <Response><Connect><Stream url="..."/></Connect></Response>.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// handleTwiML answers the provider's voice webhook with a document that
// connects the call to the media-stream websocket.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	streamURL, err := s.streamURL(r)
	if err != nil {
		logger.Error("Invalid public URL", "public_url", s.publicURL, "error", err)
		http.Error(w, "invalid public url", http.StatusInternalServerError)
		return
	}

	body, err := xml.Marshal(twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: streamURL}}})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

// streamURL builds the websocket URL from the public URL, or from the
// request host when none is configured. Calls always use a secure socket
// unless the public URL is plain http.
func (s *Server) streamURL(r *http.Request) (string, error) {
	if s.publicURL == "" {
		u := url.URL{Scheme: "wss", Host: r.Host, Path: s.streamPath}
		return u.String(), nil
	}

	u, err := url.Parse(s.publicURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	if u.Host == "" {
		// A bare host such as "relay.example.com" parses as a path.
		u.Host = strings.TrimSuffix(u.Path, "/")
		u.Path = ""
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + s.streamPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
