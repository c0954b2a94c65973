// Package main runs a demo WebSocket client for plan events: it subscribes
// to one country, requests a plan for it and prints the events it receives.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"evsite/internal/events"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "API host:port")
	country := flag.String("country", "KEN", "ISO3 code to plan")
	token := flag.String("token", "", "bearer token (dev mode: sub:role)")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for events")
	flag.Parse()

	iso3 := strings.ToUpper(*country)
	hdr := http.Header{}
	if *token != "" {
		hdr.Set("Authorization", "Bearer "+*token)
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/v1/plans/ws", RawQuery: "country=" + url.QueryEscape(iso3)}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt events.Event
			if err := c.ReadJSON(&evt); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s %s plan=%s %v", evt.Type, evt.Country, evt.PlanID, evt.Data)
			if evt.Type == events.PlanCompleted || evt.Type == events.PlanFailed {
				return
			}
		}
	}()

	body, _ := json.Marshal(map[string]string{"country": iso3})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/v1/plans", *addr), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("POST /v1/plans -> %s (%s)", resp.Status, resp.Header.Get("Location"))

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
