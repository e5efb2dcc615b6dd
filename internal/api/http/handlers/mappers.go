package handlers

import (
	"github.com/lyanjo/fila-service/internal/api/dto"
	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/service"
)

func ticketResponse(t domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:              t.ID,
		LocalID:         t.LocalID,
		Department:      t.Department,
		Code:            t.Code,
		ServiceDay:      t.ServiceDay,
		CitizenName:     t.CitizenName,
		CitizenDocument: t.CitizenDocument,
		Preferential:    t.Preferential,
		State:           t.State,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		Synced:          t.ID != "",
	}
}

func optionalTicket(t *domain.Ticket) *dto.TicketResponse {
	if t == nil {
		return nil
	}
	r := ticketResponse(*t)
	return &r
}

func queueResponse(v service.QueueView) dto.QueueResponse {
	waiting := make([]dto.TicketResponse, 0, len(v.Waiting))
	for _, t := range v.Waiting {
		waiting = append(waiting, ticketResponse(t))
	}
	return dto.QueueResponse{
		Department: v.Department.Code,
		Name:       v.Department.Name,
		Room:       v.Department.Room,
		Waiting:    waiting,
		Serving:    optionalTicket(v.Serving),
	}
}

func historyResponse(h domain.HistoryEntry) dto.HistoryResponse {
	return dto.HistoryResponse{
		TicketID:     h.TicketID,
		Code:         h.Code,
		Department:   h.Department,
		CitizenName:  h.CitizenName,
		Preferential: h.Preferential,
		CalledAt:     h.CalledAt,
		EndedAt:      h.EndedAt,
	}
}

func citizenResponse(c domain.Citizen) dto.CitizenResponse {
	return dto.CitizenResponse{
		ID:           c.ID,
		Name:         c.Name,
		Document:     c.Document,
		Preferential: c.Preferential,
		Phone:        c.Phone,
		PostalCode:   c.PostalCode,
		Street:       c.Street,
		Number:       c.Number,
		District:     c.District,
		City:         c.City,
		CreatedAt:    c.CreatedAt,
	}
}

func userResponse(u domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Active:    u.Active,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}
