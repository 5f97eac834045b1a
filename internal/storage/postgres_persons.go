package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegate/internal/apperr"
	"github.com/your-org/facegate/internal/models"
)

const (
	employeeColumns = `id, name, face_id, is_active, is_blacklisted, employee_id, department, attendance, created_at, updated_at`
	visitorColumns  = `id, name, face_id, is_active, is_blacklisted, category, is_regular, visits, created_at, updated_at`
	unknownColumns  = `id, name, face_id, is_active, is_blacklisted, detections, threat_level, resolution_status, created_at, updated_at`
)

func personTable(t models.PersonType) (table, columns string, err error) {
	switch t {
	case models.PersonEmployee:
		return "employees", employeeColumns, nil
	case models.PersonVisitor:
		return "visitors", visitorColumns, nil
	case models.PersonUnknown:
		return "unknown_persons", unknownColumns, nil
	}
	return "", "", fmt.Errorf("person type %q: %w", t, apperr.ErrMissingPersonType)
}

func scanPerson(t models.PersonType, row scanner) (models.Person, error) {
	var logs []byte
	switch t {
	case models.PersonEmployee:
		e := &models.Employee{}
		if err := row.Scan(&e.ID, &e.Name, &e.FaceID, &e.IsActive, &e.IsBlacklisted,
			&e.EmployeeID, &e.Department, &logs, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalArray(logs, &e.Attendance); err != nil {
			return nil, fmt.Errorf("decode attendance: %w", err)
		}
		return e, nil
	case models.PersonVisitor:
		v := &models.Visitor{}
		if err := row.Scan(&v.ID, &v.Name, &v.FaceID, &v.IsActive, &v.IsBlacklisted,
			&v.Category, &v.IsRegular, &logs, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalArray(logs, &v.Visits); err != nil {
			return nil, fmt.Errorf("decode visits: %w", err)
		}
		return v, nil
	default:
		var threat, resolution string
		u := &models.UnknownPerson{}
		if err := row.Scan(&u.ID, &u.Name, &u.FaceID, &u.IsActive, &u.IsBlacklisted,
			&logs, &threat, &resolution, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.ThreatLevel = models.ThreatLevel(threat)
		u.Resolution = models.ResolutionStatus(resolution)
		if err := unmarshalArray(logs, &u.Detections); err != nil {
			return nil, fmt.Errorf("decode detections: %w", err)
		}
		return u, nil
	}
}

func (q *queries) CreatePerson(ctx context.Context, p models.Person) error {
	var (
		row pgx.Row
		b   *models.PersonBase
	)
	switch v := p.(type) {
	case *models.Employee:
		logs, err := jsonArray(v.Attendance)
		if err != nil {
			return fmt.Errorf("encode attendance: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`INSERT INTO employees (id, name, face_id, is_active, is_blacklisted, employee_id, department, attendance)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, v.EmployeeID, v.Department, logs)
	case *models.Visitor:
		logs, err := jsonArray(v.Visits)
		if err != nil {
			return fmt.Errorf("encode visits: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`INSERT INTO visitors (id, name, face_id, is_active, is_blacklisted, category, is_regular, visits)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, v.Category, v.IsRegular, logs)
	case *models.UnknownPerson:
		logs, err := jsonArray(v.Detections)
		if err != nil {
			return fmt.Errorf("encode detections: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`INSERT INTO unknown_persons (id, name, face_id, is_active, is_blacklisted, detections, threat_level, resolution_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at, updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, logs, string(v.ThreatLevel), string(v.Resolution))
	default:
		return fmt.Errorf("create person: unsupported type %T", p)
	}
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return wrapErr("create person", err)
	}
	return nil
}

func (q *queries) GetPerson(ctx context.Context, ref models.PersonRef) (models.Person, error) {
	return q.getPerson(ctx, ref, "")
}

func (q *queries) GetPersonForUpdate(ctx context.Context, ref models.PersonRef) (models.Person, error) {
	return q.getPerson(ctx, ref, " FOR UPDATE")
}

func (q *queries) getPerson(ctx context.Context, ref models.PersonRef, suffix string) (models.Person, error) {
	table, columns, err := personTable(ref.Type)
	if err != nil {
		return nil, err
	}
	p, err := scanPerson(ref.Type, q.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1%s`, columns, table, suffix), ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (q *queries) UpdatePerson(ctx context.Context, p models.Person) error {
	var (
		row pgx.Row
		b   *models.PersonBase
	)
	switch v := p.(type) {
	case *models.Employee:
		logs, err := jsonArray(v.Attendance)
		if err != nil {
			return fmt.Errorf("encode attendance: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`UPDATE employees SET name = $2, face_id = $3, is_active = $4, is_blacklisted = $5, employee_id = $6,
			 department = $7, attendance = $8, updated_at = now() WHERE id = $1 RETURNING updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, v.EmployeeID, v.Department, logs)
	case *models.Visitor:
		logs, err := jsonArray(v.Visits)
		if err != nil {
			return fmt.Errorf("encode visits: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`UPDATE visitors SET name = $2, face_id = $3, is_active = $4, is_blacklisted = $5, category = $6,
			 is_regular = $7, visits = $8, updated_at = now() WHERE id = $1 RETURNING updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, v.Category, v.IsRegular, logs)
	case *models.UnknownPerson:
		logs, err := jsonArray(v.Detections)
		if err != nil {
			return fmt.Errorf("encode detections: %w", err)
		}
		b = &v.PersonBase
		row = q.db.QueryRow(ctx,
			`UPDATE unknown_persons SET name = $2, face_id = $3, is_active = $4, is_blacklisted = $5, detections = $6,
			 threat_level = $7, resolution_status = $8, updated_at = now() WHERE id = $1 RETURNING updated_at`,
			v.ID, v.Name, v.FaceID, v.IsActive, v.IsBlacklisted, logs, string(v.ThreatLevel), string(v.Resolution))
	default:
		return fmt.Errorf("update person: unsupported type %T", p)
	}
	if err := row.Scan(&b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update person %s: %w", p.Ref(), apperr.ErrNotFound)
		}
		return wrapErr("update person", err)
	}
	return nil
}

func (q *queries) FindPersonByName(ctx context.Context, name string) (models.Person, error) {
	for _, t := range []models.PersonType{models.PersonEmployee, models.PersonVisitor} {
		table, columns, _ := personTable(t)
		p, err := scanPerson(t, q.db.QueryRow(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE name = $1 ORDER BY is_active DESC, created_at LIMIT 1`, columns, table),
			name))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("find %s by name: %w", t, err)
		}
	}
	return nil, nil
}

func (q *queries) ListPersons(ctx context.Context, t models.PersonType, limit, offset int) ([]models.Person, error) {
	table, columns, err := personTable(t)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2`, columns, table),
		clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPerson(t, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (q *queries) DeletePerson(ctx context.Context, ref models.PersonRef) error {
	table, _, err := personTable(ref.Type)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), ref.ID)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete person %s: %w", ref, apperr.ErrNotFound)
	}
	return nil
}
