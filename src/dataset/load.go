package dataset

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type matrixFile struct {
	rows, cols int
	data       *mat.Dense
}

func (mf *matrixFile) parseFirstLine(scanner *bufio.Scanner) error {
	if !scanner.Scan() {
		return errors.New("error while parsing first line: empty file")
	}
	line := strings.Fields(scanner.Text())
	if len(line) < 2 {
		return errors.Errorf("error while parsing first line: want \"rows cols\", got %q", scanner.Text())
	}
	rows, err := strconv.Atoi(line[0])
	if err != nil {
		return errors.Wrap(err, "error while parsing first line")
	}
	cols, err := strconv.Atoi(line[1])
	if err != nil {
		return errors.Wrap(err, "error while parsing first line")
	}
	if rows <= 0 || cols <= 0 {
		return errors.Errorf("error while parsing first line: non-positive size %dx%d", rows, cols)
	}
	mf.rows, mf.cols = rows, cols
	mf.data = mat.NewDense(rows, cols, nil)
	return nil
}

func (mf *matrixFile) parseRows(scanner *bufio.Scanner) error {
	i := 0
	for scanner.Scan() {
		line := strings.Fields(scanner.Text())
		if len(line) == 0 {
			continue
		}
		if i == mf.rows {
			return errors.Errorf("more than %d rows", mf.rows)
		}
		if len(line) != mf.cols {
			return errors.Errorf("row %d has %d values, want %d", i, len(line), mf.cols)
		}
		for j, tok := range line {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return errors.Wrapf(err, "error while parsing row %d", i)
			}
			mf.data.Set(i, j, v)
		}
		i++
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if i != mf.rows {
		return errors.Errorf("found %d rows, want %d", i, mf.rows)
	}
	return nil
}

// LoadMatrix reads a whitespace separated matrix whose first line is
// "rows cols".
func LoadMatrix(filename string) (*mat.Dense, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mf := new(matrixFile)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if err := mf.parseFirstLine(scanner); err != nil {
		return nil, errors.Wrapf(err, "matrix %q", filename)
	}
	if err := mf.parseRows(scanner); err != nil {
		return nil, errors.Wrapf(err, "matrix %q", filename)
	}
	return mf.data, nil
}
