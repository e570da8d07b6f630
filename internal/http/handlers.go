package http

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/connection"
	"github.com/nextlevelbuilder/wagate/internal/pairing"
	"github.com/nextlevelbuilder/wagate/internal/whatsapp"
)

type healthResponse struct {
	Success          bool              `json:"success"`
	Status           string            `json:"status"`
	ClientReady      bool              `json:"clientReady"`
	ConnectionStatus connection.Status `json:"connectionStatus"`
}

// handleHealth always answers 200; it needs no auth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, ready := s.client.Info()
	writeJSON(w, http.StatusOK, healthResponse{
		Success:          true,
		Status:           "ok",
		ClientReady:      ready,
		ConnectionStatus: s.tracker.Status(),
	})
}

type connectionResponse struct {
	Success          bool              `json:"success"`
	ConnectionStatus connection.Status `json:"connectionStatus"`
	QRCode           *string           `json:"qrCode"`
	Timestamp        string            `json:"timestamp"`
}

// handleConnection reports status plus the pending QR as a data URL, or a
// null qrCode when nothing is pending.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	resp := connectionResponse{
		Success:          true,
		ConnectionStatus: snap.Status,
		Timestamp:        isoTimestamp(time.Now()),
	}

	if snap.HasQR() {
		url, err := s.renderer.DataURL(snap.QRCode)
		if err != nil {
			slog.Error("qr.render_failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Message:          "Failed to generate QR code",
				ConnectionStatus: string(snap.Status),
				Error:            err.Error(),
			})
			return
		}
		resp.QRCode = &url
	}

	writeJSON(w, http.StatusOK, resp)
}

type restartResponse struct {
	Success          bool              `json:"success"`
	Message          string            `json:"message"`
	ConnectionStatus connection.Status `json:"connectionStatus"`
}

// handleRestart answers immediately; logout (when connected) and
// re-initialization run in the background, in that order. The reported
// status is the one this request set, whatever events arrive meanwhile.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	wasConnected := s.tracker.Status() == connection.StatusConnected

	s.bus.Publish(bus.EventInitializing, nil)
	go s.restartClient(wasConnected)

	writeJSON(w, http.StatusOK, restartResponse{
		Success:          true,
		Message:          "Connection restart initiated",
		ConnectionStatus: connection.StatusInitializing,
	})
}

func (s *Server) restartClient(logout bool) {
	ctx := context.Background()
	if logout {
		if err := s.client.Logout(ctx); err != nil {
			slog.Error("whatsapp.logout_failed", "error", err)
		} else {
			slog.Info("whatsapp.logged_out")
		}
	}
	if err := s.client.Initialize(ctx); err != nil {
		slog.Error("whatsapp.initialize_failed", "error", err)
		s.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: err.Error()})
	}
}

// flexString accepts a JSON string or number, so numeric phone numbers work.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type sendMessageRequest struct {
	To      flexString `json:"to"`
	Message string     `json:"message"`
}

type sendMessageResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

const msgMissingSendParams = "Missing required parameters: to, message"

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid JSON body", Error: err.Error()})
		return
	}
	if req.To == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: msgMissingSendParams})
		return
	}

	to := whatsapp.NormalizeRecipient(string(req.To))
	sent, err := s.client.SendMessage(r.Context(), to, req.Message)
	if err != nil {
		slog.Error("whatsapp.send_failed", "to", to, "error", err)
		writeFailure(w, "Failed to send message", err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{
		Success:   true,
		Message:   "Message sent successfully",
		MessageID: sent.ID,
	})
}

type chatResponse struct {
	Success  bool               `json:"success"`
	Contact  string             `json:"contact"`
	Messages []whatsapp.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	number := whatsapp.NormalizeRecipient(mux.Vars(r)["number"])

	chat, err := s.client.GetChatByID(r.Context(), number)
	if err != nil {
		slog.Error("whatsapp.chat_fetch_failed", "chat", number, "error", err)
		writeFailure(w, "Failed to fetch chat", err)
		return
	}
	messages, err := s.client.FetchMessages(r.Context(), chat, s.chatLimit)
	if err != nil {
		slog.Error("whatsapp.chat_fetch_failed", "chat", number, "error", err)
		writeFailure(w, "Failed to fetch chat", err)
		return
	}
	if messages == nil {
		messages = []whatsapp.Message{}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:  true,
		Contact:  chat.DisplayName(),
		Messages: messages,
	})
}

// handleQRPage renders the pairing page; it needs no auth.
func (s *Server) handleQRPage(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	data := pairing.PageData{
		Status:    string(snap.Status),
		Connected: snap.Status == connection.StatusConnected,
	}

	if snap.HasQR() {
		url, err := s.renderer.DataURL(snap.QRCode)
		if err != nil {
			slog.Error("qr.render_failed", "error", err)
			http.Error(w, "Failed to generate QR code: "+err.Error(), http.StatusInternalServerError)
			return
		}
		data.QRDataURL = template.URL(url)
	}

	page, err := pairing.RenderPage(data)
	if err != nil {
		http.Error(w, "Failed to render page: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // connection may already be gone
	w.Write(page)
}
