package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the queue API on router. Administrator routes sit
// behind AdminAuth(adminToken).
func RegisterRoutes(router *mux.Router, queueHandler *QueueHandler, balanceHandler *BalanceHandler, adminToken string) {
	// Enqueue and read routes
	router.HandleFunc("/queue/withdrawals", queueHandler.EnqueueWithdrawal).Methods(http.MethodPost)
	router.HandleFunc("/queue/deposits", queueHandler.EnqueueDeposit).Methods(http.MethodPost)
	router.HandleFunc("/queue/items", queueHandler.ListItems).Methods(http.MethodGet)
	router.HandleFunc("/queue/items/{id}", queueHandler.GetItem).Methods(http.MethodGet)
	router.HandleFunc("/queue/matches", queueHandler.ListMatches).Methods(http.MethodGet)
	router.HandleFunc("/queue/stats", queueHandler.Stats).Methods(http.MethodGet)
	router.HandleFunc("/customers/{id}/balance", balanceHandler.GetBalance).Methods(http.MethodGet)

	// Administrator routes
	admin := AdminAuth(adminToken)
	router.Handle("/queue/items/{id}", admin(http.HandlerFunc(queueHandler.UpdateItem))).Methods(http.MethodPatch)
	router.Handle("/queue/items/{id}/cancel", admin(http.HandlerFunc(queueHandler.CancelItem))).Methods(http.MethodPost)
	router.Handle("/queue/matches/{id}/approve", admin(http.HandlerFunc(queueHandler.ApproveMatch))).Methods(http.MethodPost)
	router.Handle("/queue/matches/{id}/reject", admin(http.HandlerFunc(queueHandler.RejectMatch))).Methods(http.MethodPost)
	router.Handle("/queue/rescan", admin(http.HandlerFunc(queueHandler.Rescan))).Methods(http.MethodPost)
	router.Handle("/customers/{id}/balance/credit", admin(http.HandlerFunc(balanceHandler.TopUp))).Methods(http.MethodPost)
}
