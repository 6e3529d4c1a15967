package repository

import (
	"database/sql"

	"github.com/modelci/modelci/internal/config"
	domain "github.com/modelci/modelci/pkg/modelci/domain"
)

type FlowDefinitionRepository struct {
	db *sql.DB
}

func NewFlowDefinitionRepository(db *sql.DB) *FlowDefinitionRepository {
	return &FlowDefinitionRepository{db: db}
}

// Save inserts a new flow definition or updates an existing one by name.
// Returns nil on success or an error.
func (r *FlowDefinitionRepository) Save(def *domain.FlowDefinition) error {
	query := ""
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES || db == config.DATABASE_TYPE_SQLLITE {
		query = `
		INSERT INTO flow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description,
			updated = EXCLUDED.updated,
			flow_chart = EXCLUDED.flow_chart
	`
	} else if db == config.DATABASE_TYPE_MYSQL {
		query = `
		INSERT INTO flow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			updated = VALUES(updated),
			flow_chart = VALUES(flow_chart)
	`
	} else {
		panic("Unknown database type trying to save flow definition")
	}

	_, err := r.db.Exec(query, def.Name, def.Description, def.Created, def.Updated, def.FlowChart)
	return err
}

// FindByName fetches a flow definition by its unique name.
func (r *FlowDefinitionRepository) FindByName(name string) (*domain.FlowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM flow_definitions WHERE name = ` + placeholder(1) + `
	`
	var def domain.FlowDefinition
	err := r.db.QueryRow(query, name).Scan(
		&def.Name,
		&def.Description,
		&def.Created,
		&def.Updated,
		&def.FlowChart,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns all flow definitions.
func (r *FlowDefinitionRepository) FindAll() (*[]domain.FlowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM flow_definitions
		ORDER BY name
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.FlowDefinition, 0)
	for rows.Next() {
		var d domain.FlowDefinition
		if err := rows.Scan(&d.Name, &d.Description, &d.Created, &d.Updated, &d.FlowChart); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &defs, nil
}
