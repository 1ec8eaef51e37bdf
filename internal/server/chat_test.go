package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/tubewise/tubewise/internal/responder"
	"github.com/tubewise/tubewise/internal/store"
)

type stubAnswerer struct {
	chatResp responder.ChatResponse
	results  []store.SearchResult
	guide    string
	summary  string
	lastTopK int
}

func (s *stubAnswerer) Chat(ctx context.Context, channelID int64, message string) (responder.ChatResponse, error) {
	return s.chatResp, nil
}

func (s *stubAnswerer) Search(ctx context.Context, channelID, videoID int64, query string, topK int) ([]store.SearchResult, error) {
	s.lastTopK = topK
	return s.results, nil
}

func (s *stubAnswerer) StudyGuide(ctx context.Context, channelID int64, topic string) (string, error) {
	return s.guide, nil
}

func (s *stubAnswerer) Summarize(ctx context.Context, channelID int64) (string, error) {
	return s.summary, nil
}

func TestChatReturnsAnswerAndSources(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ans := &stubAnswerer{chatResp: responder.ChatResponse{
		Response: "grounded answer",
		Sources: []responder.Source{
			{VideoTitle: "Video A", VideoURL: "u", TimestampStart: 1, TimestampEnd: 2, ContentPreview: "text"},
		},
	}}
	handler := &ChatHandler{Store: &store.Store{DB: db}, Responder: ans}
	expectGetChannel(mock, 7)

	ctx, rec := newJSONContext(e, http.MethodPost, "/api/chat/7", `{"message":"what is covered?"}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	if err := handler.chat(ctx); err != nil {
		t.Fatalf("chat: %v", err)
	}
	var resp responder.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response != "grounded answer" || len(resp.Sources) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ChatHandler{Store: &store.Store{DB: db}, Responder: &stubAnswerer{}}
	expectGetChannel(mock, 7)

	ctx, _ := newJSONContext(e, http.MethodPost, "/api/chat/7", `{}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	err = handler.chat(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSearchEndpointReturnsEmptyArray(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ChatHandler{Store: &store.Store{DB: db}, Responder: &stubAnswerer{}}
	expectGetChannel(mock, 7)

	ctx, rec := newJSONContext(e, http.MethodPost, "/api/chat/search/7", `{"query":"nothing matches"}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	if err := handler.search(ctx); err != nil {
		t.Fatalf("search: %v", err)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty JSON array, got %q", body)
	}
}

func TestStudyGuideEndpoint(t *testing.T) {
	e := echo.New()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	handler := &ChatHandler{Store: &store.Store{DB: db}, Responder: &stubAnswerer{guide: "the guide"}}
	expectGetChannel(mock, 7)

	ctx, rec := newJSONContext(e, http.MethodPost, "/api/chat/study-guide/7", `{"topic":"testing"}`)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	if err := handler.studyGuide(ctx); err != nil {
		t.Fatalf("studyGuide: %v", err)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["study_guide"] != "the guide" {
		t.Fatalf("unexpected response: %v", resp)
	}
}
