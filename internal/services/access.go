package services

import (
	"context"

	"github.com/google/uuid"

	"medsim-backend/internal/models"
	"medsim-backend/internal/repository"
)

// AccessPolicyService decides who may view a session: the owning
// student, the assigned supervisor, or an admin / medical expert whose
// institution matches the student's. It implements session.AccessPolicy.
type AccessPolicyService struct {
	userRepo *repository.UserRepo
}

func NewAccessPolicyService(userRepo *repository.UserRepo) *AccessPolicyService {
	return &AccessPolicyService{userRepo: userRepo}
}

func (s *AccessPolicyService) CanAccess(ctx context.Context, sess *models.Session, userID uuid.UUID, role string) bool {
	if sess.StudentID == userID {
		return true
	}
	if sess.SupervisorID != nil && *sess.SupervisorID == userID {
		return true
	}
	if role != models.RoleAdmin && role != models.RoleMedicalExpert {
		return false
	}

	// Institution scoping: an admin or expert without an institution is
	// global; otherwise their institution must match the student's.
	viewer, err := s.userRepo.GetByID(ctx, userID)
	if err != nil || viewer == nil {
		return false
	}
	if viewer.InstitutionID == nil {
		return true
	}
	student, err := s.userRepo.GetByID(ctx, sess.StudentID)
	if err != nil || student == nil || student.InstitutionID == nil {
		return false
	}
	return *viewer.InstitutionID == *student.InstitutionID
}
