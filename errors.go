/*
Copyright © 2026 Wordsage <hello@wordsage.dev>
*/

package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

// Error codes surfaced to clients via ack frames. These are the only
// failure modes a request can report; nothing escapes as a transport
// fault.
const (
	errMissingParameters = "missing-parameters"
	errRoomNotFound      = "room-not-found"
	errUserNotFound      = "user-not-found"
	errRoleConflict      = "role-conflict"
	errNotAdmin          = "not-admin"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
