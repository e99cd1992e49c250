package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListTalksPaging(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/talks" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"talks":[
				{"id":"t1","title":"The Glory of God","speaker":"John Piper","recordedAt":"2019-04-12","durationSeconds":2700,"audioUrl":"https://media.example.org/t1.mp3"},
				{"id":"t2","title":"Grace Alone","speaker":"Don Carson","recordedAt":"2020-09-03T14:00:00Z","durationSeconds":3100,"audioUrl":"https://media.example.org/t2.mp3"}
			],"hasMore":true}`)
		default:
			fmt.Fprint(w, `{"talks":[
				{"id":"t3","title":"Q&A Panel","speaker":"John Piper","videoUrl":"https://player.vimeo.com/external/3.mp4"}
			],"hasMore":false}`)
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.Client(), server.URL)
	ctx := context.Background()

	page, err := client.ListTalks(ctx, 1, 50)
	if err != nil {
		t.Fatalf("ListTalks() error = %v", err)
	}
	if len(page.Talks) != 2 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}

	first := page.Talks[0]
	if first.ID != "t1" || first.Speaker != "John Piper" {
		t.Fatalf("unexpected talk: %+v", first)
	}
	if !first.HasRecorded || first.RecordedAt.Year() != 2019 {
		t.Fatalf("date-only recordedAt not parsed: %+v", first)
	}
	if !page.Talks[1].HasRecorded || page.Talks[1].RecordedAt.Hour() != 14 {
		t.Fatalf("RFC3339 recordedAt not parsed: %+v", page.Talks[1])
	}

	page, err = client.ListTalks(ctx, 2, 50)
	if err != nil {
		t.Fatalf("ListTalks() page 2 error = %v", err)
	}
	if len(page.Talks) != 1 || page.HasMore {
		t.Fatalf("unexpected second page: %+v", page)
	}
	if page.Talks[0].HasRecorded {
		t.Fatalf("missing recordedAt should leave HasRecorded false: %+v", page.Talks[0])
	}
}

func TestGetTalk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/talks/t1":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"t1","title":"The Glory of God","speaker":"John Piper","scripture":"Romans 8:28-30","audioUrl":"https://media.example.org/t1.mp3"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.Client(), server.URL)

	talk, err := client.GetTalk(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTalk() error = %v", err)
	}
	if talk.Scripture != "Romans 8:28-30" {
		t.Fatalf("unexpected talk: %+v", talk)
	}

	if _, err := client.GetTalk(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown talk")
	}
}

func TestListTalksServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.Client(), server.URL)
	if _, err := client.ListTalks(context.Background(), 1, 50); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
