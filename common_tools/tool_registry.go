package common_tools

import "github.com/Desarso/ragchat/models"

// WebsiteSearchTool returns a FunctionDeclaration for scraping a website.
func WebsiteSearchTool() models.FunctionDeclaration {
	return models.FunctionDeclaration{
		Name:        models.ToolWebsiteSearch,
		Description: "Scrape the website and store the information",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"website_url": map[string]interface{}{
					"type":        "string",
					"description": "The URL of the website to search",
				},
			},
			Required: []string{"website_url"},
		},
	}
}

// QueryDatabaseTool returns a FunctionDeclaration for searching stored content.
func QueryDatabaseTool() models.FunctionDeclaration {
	return models.FunctionDeclaration{
		Name:        models.ToolQueryDatabase,
		Description: "Search the database for relevant content that can answer the user's query. Use this when you need to find information from previously scraped websites.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"user_query": map[string]interface{}{
					"type":        "string",
					"description": "The user's query you are trying to answer",
				},
			},
			Required: []string{"user_query"},
		},
	}
}

// DefaultTools returns the tools offered to the chat agent.
func DefaultTools() []models.FunctionDeclaration {
	return []models.FunctionDeclaration{
		WebsiteSearchTool(),
		QueryDatabaseTool(),
	}
}
