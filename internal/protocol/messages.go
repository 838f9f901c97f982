// Package protocol defines the wire-level messages exchanged between
// the engine and its transports. Every transport speaks the same
// envelope; only the framing differs (newline-delimited TCP, HTTP
// bodies, WebSocket frames).
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Client -> Server
	TypeCreateSession MessageType = "CREATE_SESSION"
	TypeJoinSession   MessageType = "JOIN_SESSION"
	TypeListSessions  MessageType = "LIST_SESSIONS"
	TypeStartGame     MessageType = "START_GAME"
	TypePlayCards     MessageType = "PLAY_CARDS"
	TypePassTurn      MessageType = "PASS_TURN"
	TypeGetGameState  MessageType = "GET_GAME_STATE"

	// Server -> Client
	TypeSessionMenu   MessageType = "SESSION_MENU"
	TypeSessionJoined MessageType = "SESSION_JOINED"
	TypePlayerJoined  MessageType = "PLAYER_JOINED"
	TypeGameUpdate    MessageType = "GAME_UPDATE"
	TypeGameEnd       MessageType = "GAME_END"
	TypeGameRestarted MessageType = "GAME_RESTARTED"
	TypeError         MessageType = "ERROR"
)

// Message is the envelope shared by all transports
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps a payload in an envelope with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	if data == nil {
		return &Message{Type: messageType, Timestamp: time.Now()}, nil
	}
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Card is the wire representation of a card
type Card struct {
	Number      int    `json:"number"`
	Suit        int    `json:"suit"`
	Rank        int    `json:"rank"`
	DisplayRank string `json:"displayRank"`
}

// Client -> Server payloads

type CreateSessionData struct {
	SessionName string `json:"sessionName"`
	CreatorName string `json:"creatorName"`
}

type JoinSessionData struct {
	SessionID  string `json:"sessionId"`
	PlayerName string `json:"playerName"`
}

type PlayCardsData struct {
	Cards []int `json:"cards"`
}

// Server -> Client payloads

type SessionSummary struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
	CreatorName string `json:"creatorName"`
	CreatedAt   string `json:"createdAt"`
	PlayerCount int    `json:"playerCount"`
	Status      string `json:"status"`
}

type SessionMenuData struct {
	Sessions []SessionSummary `json:"sessions"`
}

type SessionJoinedData struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
	PlayerIndex int    `json:"playerIndex"`
	PlayerName  string `json:"playerName"`
}

type PlayerJoinedData struct {
	PlayerName  string `json:"playerName"`
	PlayerIndex int    `json:"playerIndex"`
	Message     string `json:"message"`
}

// GameUpdateData is the full state snapshot from one seat's
// perspective. Other seats' hands are never included.
type GameUpdateData struct {
	SessionID          string    `json:"sessionId"`
	SessionName        string    `json:"sessionName"`
	CurrentPlayerIndex int       `json:"currentPlayerIndex"`
	CurrentPlayerName  string    `json:"currentPlayerName"`
	SeatNames          [4]string `json:"seatNames"`
	MyHand             []Card    `json:"myHand"`
	MyPlayerIndex      int       `json:"myPlayerIndex"`
	TableCards         []Card    `json:"tableCards"`
	CardsRemaining     [4]int    `json:"cardsRemainingPerSeat"`
	GameActive         bool      `json:"gameActive"`
	FinishOrder        []string  `json:"finishOrder,omitempty"`
	Winner             string    `json:"winner,omitempty"`
	PassedSeats        []int     `json:"passedSeats"`
}

type GameEndData struct {
	Winner      string   `json:"winner"`
	FinishOrder []string `json:"finishOrder"`
}

type GameRestartedData struct {
	Message string `json:"message"`
}

type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
