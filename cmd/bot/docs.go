package main

//go:generate swag init -g cmd/bot/main.go -o docs

// @title           Polypaper Trading Bot API
// @version         0.1.0
// @description     Paper-trading bot for binary prediction markets: portfolio, orders, cycle control and stats.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
