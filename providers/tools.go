package providers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/src/types"
)

// publishRequest is the body of POST /ws/publish.
type publishRequest struct {
	Target  string         `json:"target"` // topic, user, role, connection or broadcast
	To      string         `json:"to"`
	Type    string         `json:"type"`
	Content any            `json:"content"`
	Fields  map[string]any `json:"fields"`
}

// RegisterRoutes registers the realtime admin routes.
func (p *RealtimeProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/info", p.handleInfo)
	group.Get("/ws/connections", p.handleConnections)
	group.Get("/ws/connections/:id", p.handleConnection)
	group.Get("/ws/topics", p.handleTopics)
	group.Post("/ws/publish", p.handlePublish)
}

func (p *RealtimeProvider) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  p.cfg.Socket.Path,
		"auth_mode": p.cfg.Auth.Mode,
		"stats":     p.service.Stats(),
	})
}

func (p *RealtimeProvider) handleConnections(c fiber.Ctx) error {
	conns := p.service.Connections()
	return c.JSON(fiber.Map{"connections": conns, "count": len(conns)})
}

func (p *RealtimeProvider) handleConnection(c fiber.Ctx) error {
	info, ok := p.service.Connection(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "connection not found"})
	}
	return c.JSON(info)
}

func (p *RealtimeProvider) handleTopics(c fiber.Ctx) error {
	topics := p.service.Topics()
	result := make([]fiber.Map, 0, len(topics))
	for name, count := range topics {
		result = append(result, fiber.Map{"topic": name, "subscribers": count})
	}
	return c.JSON(fiber.Map{"topics": result, "count": len(result)})
}

func (p *RealtimeProvider) handlePublish(c fiber.Ctx) error {
	var req publishRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.Type == "" {
		return badRequest(c, "type is required")
	}
	if req.Target != "broadcast" && req.To == "" {
		return badRequest(c, "to is required")
	}

	msg := types.Message{Type: req.Type, Content: req.Content, Fields: req.Fields}
	var sent int
	switch req.Target {
	case "topic":
		sent = p.service.PublishToTopic(req.To, msg)
	case "user":
		sent = p.service.SendToUser(req.To, msg)
	case "role":
		sent = p.service.SendToRole(req.To, msg)
	case "connection":
		if p.service.SendToConnection(req.To, msg) {
			sent = 1
		}
	case "broadcast":
		sent = p.service.Broadcast(msg)
	default:
		return badRequest(c, "target must be one of topic, user, role, connection, broadcast")
	}
	return c.JSON(fiber.Map{"sent": sent, "target": req.Target, "to": req.To})
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}
