//go:build js && wasm

// Command pushclient is the WebAssembly build of the page's push
// registration script.
package main

import (
	"context"
	"net/http"

	"pushsub-go/internal/pushclient"
)

func main() {
	browser := pushclient.NewBrowser()
	done := make(chan struct{})

	browser.OnDOMContentLoaded(func() {
		defer close(done)
		r := pushclient.NewRegistrar(browser, browser, http.DefaultClient, browser.Origin(), nil)
		if err := r.Run(context.Background()); err != nil {
			browser.ConsoleError("push registration failed:", err.Error())
		}
	})

	<-done
}
