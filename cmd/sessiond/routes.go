package main

import (
	"fmt"
	"net/http"

	"github.com/bluescreen10/tablesession/session"
)

func routes(mgr *session.Manager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		sess := mgr.Get(r)
		count := sess.GetInt("count") + 1
		sess.Set("count", count)

		if user := sess.GetString("isAuth"); user != "" {
			fmt.Fprintf(w, "Hello %s, you have visited %d times\n", user, count)
			return
		}
		fmt.Fprintf(w, "You have visited %d times\n", count)
	})

	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}

		mgr.Get(r).Set("isAuth", user)
		fmt.Fprintf(w, "Logged in as %s\n", user)
	})

	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		mgr.Get(r).Destroy()
		fmt.Fprintln(w, "Logged out")
	})

	return mux
}
