// Package common_tools provides the tools the chat agent can call.
//
// Available tools:
//   - website_search: Scrape a website and store its content for retrieval
//   - query_database: Search previously scraped content for a user query
//
// The Dispatcher routes a model's tool call to its handler and always
// answers with text, including for failures.
package common_tools
